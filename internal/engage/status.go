package engage

import (
	"context"
	"math/rand/v2"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// reactions is the fixed emoji set statuses and messages are reacted to
// with.
var reactions = []string{"❤️", "🔥", "😂", "👍", "🎉", "😮"}

// Reactor is the slice of the protocol surface auto-engagement needs.
type Reactor interface {
	MarkRead(ctx context.Context, ids []types.MessageID, ts time.Time, chat, sender types.JID) error
	React(ctx context.Context, chat, sender types.JID, id types.MessageID, emoji string) error
	SendText(ctx context.Context, to types.JID, text string) error
}

// Options toggle the independent engagement behaviors.
type Options struct {
	// AutoView marks inbound statuses read.
	AutoView bool
	// AutoLike posts a random reaction on inbound statuses.
	AutoLike bool
	// AutoReact posts a random reaction on ordinary inbound messages.
	AutoReact bool
	// StatusReply, when non-empty, is texted to each status poster.
	StatusReply string
}

// Watcher auto-engages with inbound traffic: statuses get marked read,
// reacted to and/or replied to, ordinary messages optionally get a
// reaction. Reactions are posted after a jittered delay to avoid
// synchronized bursts. Every behavior is independently toggled and
// fails soft.
type Watcher struct {
	reactor  Reactor
	opts     Options
	minDelay time.Duration
	maxDelay time.Duration
	logger   *zap.Logger
}

// NewWatcher creates an engagement watcher. The reaction delay is drawn
// uniformly from [1s, 4s].
func NewWatcher(reactor Reactor, opts Options, logger *zap.Logger) *Watcher {
	return &Watcher{
		reactor:  reactor,
		opts:     opts,
		minDelay: 1 * time.Second,
		maxDelay: 4 * time.Second,
		logger:   logger,
	}
}

// HandleStatus processes one inbound event. Events whose chat is not the
// reserved status broadcast JID are ignored, as are our own statuses.
func (w *Watcher) HandleStatus(ctx context.Context, evt *events.Message) {
	if evt.Info.Chat != types.StatusBroadcastJID || evt.Info.IsFromMe {
		return
	}

	if w.opts.AutoView {
		if err := w.reactor.MarkRead(ctx, []types.MessageID{evt.Info.ID}, time.Now(), evt.Info.Chat, evt.Info.Sender); err != nil {
			w.logger.Warn("failed to mark status read",
				zap.String("sender", evt.Info.Sender.String()), zap.Error(err))
		}
	}

	if w.opts.StatusReply != "" {
		if err := w.reactor.SendText(ctx, evt.Info.Sender, w.opts.StatusReply); err != nil {
			w.logger.Warn("failed to reply to status",
				zap.String("sender", evt.Info.Sender.String()), zap.Error(err))
		}
	}

	if w.opts.AutoLike {
		w.reactLater(ctx, evt.Info.Chat, evt.Info.Sender, evt.Info.ID)
	}
}

// HandleChat optionally reacts to an ordinary inbound message. Own
// messages never get a reaction.
func (w *Watcher) HandleChat(ctx context.Context, evt *events.Message) {
	if !w.opts.AutoReact || evt.Info.IsFromMe {
		return
	}
	w.reactLater(ctx, evt.Info.Chat, evt.Info.Sender, evt.Info.ID)
}

func (w *Watcher) reactLater(ctx context.Context, chat, sender types.JID, id types.MessageID) {
	emoji := reactions[rand.IntN(len(reactions))]
	go func() {
		select {
		case <-time.After(w.jitter()):
		case <-ctx.Done():
			return
		}
		if err := w.reactor.React(ctx, chat, sender, id, emoji); err != nil {
			w.logger.Warn("failed to react",
				zap.String("chat", chat.String()), zap.Error(err))
		}
	}()
}

func (w *Watcher) jitter() time.Duration {
	if w.maxDelay <= w.minDelay {
		return w.minDelay
	}
	return w.minDelay + rand.N(w.maxDelay-w.minDelay)
}
