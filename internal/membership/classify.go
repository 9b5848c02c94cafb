package membership

import (
	"errors"
	"strings"

	"go.mau.fi/whatsmeow"
)

// Class is the error classification of one join attempt.
type Class string

const (
	ClassNone          Class = ""
	ClassAlreadyMember Class = "already-member"
	ClassInvalid       Class = "invalid-or-expired"
	ClassRateLimited   Class = "rate-limited"
	ClassOther         Class = "other"
)

// Classify maps a join error to its class: idempotent success
// (already-member), permanent failure (invalid-or-expired), transient
// failure (rate-limited) or other. Structured whatsmeow errors are
// checked first; message-text matching is the fallback for errors the
// library only surfaces as IQ failures.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, whatsmeow.ErrInviteLinkInvalid) || errors.Is(err, whatsmeow.ErrInviteLinkRevoked) {
		return ClassInvalid
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already"), strings.Contains(msg, "conflict"):
		return ClassAlreadyMember
	case strings.Contains(msg, "rate-overlimit"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return ClassRateLimited
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "expired"), strings.Contains(msg, "revoked"), strings.Contains(msg, "not-authorized"):
		return ClassInvalid
	default:
		return ClassOther
	}
}
