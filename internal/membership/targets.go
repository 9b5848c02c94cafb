package membership

import "strings"

// TargetSource records where a membership target came from.
type TargetSource string

const (
	SourceBuiltIn TargetSource = "built-in"
	SourceConfig  TargetSource = "config-supplied"
)

// Target is a channel the agent must ensure it has joined. The target
// list is assembled once at startup and read-only afterwards.
type Target struct {
	Name   string
	Code   string
	Source TargetSource
}

const inviteLinkPrefix = "https://chat.whatsapp.com/"

// builtinTargets are always reconciled, independent of configuration.
var builtinTargets = []Target{
	{Name: "Buddy Updates", Code: "Ej5rM0WZTmQ0kHweCZyvBa", Source: SourceBuiltIn},
	{Name: "Buddy Community", Code: "KoPt1QxtTfW8IVXHbsMDeS", Source: SourceBuiltIn},
}

// AssembleTargets builds the fixed target list: built-ins first, then
// config-supplied invites (full invite links or bare codes). Blank
// entries and duplicates of already-listed codes are skipped.
func AssembleTargets(extraInvites []string) []Target {
	targets := make([]Target, 0, len(builtinTargets)+len(extraInvites))
	seen := make(map[string]bool)

	for _, t := range builtinTargets {
		targets = append(targets, t)
		seen[t.Code] = true
	}

	for _, raw := range extraInvites {
		code := InviteCode(raw)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		targets = append(targets, Target{
			Name:   code,
			Code:   code,
			Source: SourceConfig,
		})
	}
	return targets
}

// InviteCode extracts the invite code from a full invite link, or
// returns the trimmed input when it is already a bare code.
func InviteCode(raw string) string {
	code := strings.TrimSpace(raw)
	code = strings.TrimPrefix(code, inviteLinkPrefix)
	code = strings.TrimPrefix(code, "chat.whatsapp.com/")
	return strings.Trim(code, "/")
}
