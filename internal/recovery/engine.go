package recovery

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/matheus3301/buddy/internal/retention"
)

const recoveredTag = "[recovered] "

// Messenger sends messages on the live session. Implemented by the
// WhatsApp adapter; faked in tests.
type Messenger interface {
	SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message) error
	SendText(ctx context.Context, to types.JID, text string) error
}

// Notice is a protocol-level deletion notice for a previously sent
// message.
type Notice struct {
	DeletedID string
	Chat      types.JID
	Deleter   types.JID
	DeletedAt time.Time
}

// Engine recovers deleted messages from the retention cache: it reports
// the deletion, resends the original content to the chat, and removes
// the cache entry. Every external send is best-effort and the handler
// never propagates a failure to the event stream.
type Engine struct {
	cache     *retention.Cache
	messenger Messenger
	reportTo  types.JID
	logger    *zap.Logger
}

// NewEngine creates a delete-recovery engine. An empty reportTo disables
// the structured report.
func NewEngine(cache *retention.Cache, messenger Messenger, reportTo types.JID, logger *zap.Logger) *Engine {
	return &Engine{
		cache:     cache,
		messenger: messenger,
		reportTo:  reportTo,
		logger:    logger,
	}
}

// HandleDeletion processes a deletion notice. A notice whose key was
// never retained (or already processed) is a no-op.
func (e *Engine) HandleDeletion(ctx context.Context, n Notice) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("delete recovery panicked",
				zap.String("msg_id", n.DeletedID), zap.Any("panic", r))
		}
	}()

	retained := e.cache.Get(n.DeletedID)
	if retained == nil {
		return
	}
	// The entry is consumed no matter how the sends below fare.
	defer e.cache.Delete(n.DeletedID)

	chatType := ClassifyChat(retained.Chat)
	kind := DetectKind(retained.Payload)
	content := ExtractContent(retained.Payload)

	e.logger.Info("recovering deleted message",
		zap.String("msg_id", n.DeletedID),
		zap.String("chat", retained.Chat.String()),
		zap.String("kind", string(kind)))

	e.sendReport(ctx, n, retained, chatType, kind, content)

	if err := e.messenger.SendMessage(ctx, retained.Chat, tagRecovered(retained.Payload)); err != nil {
		e.logger.Warn("resend failed, falling back to text summary",
			zap.String("msg_id", n.DeletedID), zap.Error(err))
		summary := fmt.Sprintf("♻️ %s deleted a %s from %s: %s",
			senderLabel(retained), kind,
			retained.SentAt.Format(time.RFC822), content)
		if err := e.messenger.SendText(ctx, retained.Chat, summary); err != nil {
			e.logger.Warn("fallback summary failed", zap.Error(err))
		}
		return
	}

	if kind == KindText || kind == KindExtendedText {
		notice := fmt.Sprintf("♻️ the message above was deleted by %s and has been recovered", n.Deleter.User)
		if err := e.messenger.SendText(ctx, retained.Chat, notice); err != nil {
			e.logger.Warn("supplementary notice failed", zap.Error(err))
		}
	}
}

func (e *Engine) sendReport(ctx context.Context, n Notice, retained *retention.Message, chatType ChatType, kind Kind, content string) {
	if e.reportTo.IsEmpty() {
		return
	}
	report := fmt.Sprintf(
		"♻️ Deleted message recovered\n"+
			"• Chat: %s (%s)\n"+
			"• Sender: %s\n"+
			"• Deleted by: %s\n"+
			"• Sent at: %s\n"+
			"• Deleted at: %s\n"+
			"• Kind: %s\n"+
			"• Content: %s",
		retained.Chat.String(), chatType,
		senderLabel(retained),
		n.Deleter.String(),
		retained.SentAt.Format(time.RFC822),
		n.DeletedAt.Format(time.RFC822),
		kind, content)
	if err := e.messenger.SendText(ctx, e.reportTo, report); err != nil {
		e.logger.Warn("recovery report failed", zap.Error(err))
	}
}

// tagRecovered clones the payload and marks media captions/filenames so
// the resent copy is distinguishable from the original.
func tagRecovered(msg *waE2E.Message) *waE2E.Message {
	out, ok := proto.Clone(msg).(*waE2E.Message)
	if !ok || out == nil {
		return msg
	}
	switch {
	case out.ImageMessage != nil:
		out.ImageMessage.Caption = proto.String(recoveredTag + out.ImageMessage.GetCaption())
	case out.VideoMessage != nil:
		out.VideoMessage.Caption = proto.String(recoveredTag + out.VideoMessage.GetCaption())
	case out.DocumentMessage != nil:
		out.DocumentMessage.FileName = proto.String(recoveredTag + out.DocumentMessage.GetFileName())
	}
	return out
}

func senderLabel(m *retention.Message) string {
	if m.SenderName != "" {
		return fmt.Sprintf("%s (%s)", m.SenderName, m.Sender.String())
	}
	return m.Sender.String()
}
