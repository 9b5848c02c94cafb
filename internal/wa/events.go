package wa

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/matheus3301/buddy/internal/bus"
	"github.com/matheus3301/buddy/internal/engage"
	"github.com/matheus3301/buddy/internal/recovery"
	"github.com/matheus3301/buddy/internal/retention"
)

// Router dispatches whatsmeow events. Message events flow through the
// retention cache, the delete-recovery engine and the status watcher in
// that fixed order, then are republished on the bus for the command
// router. Connection events become conn.* bus events consumed by the
// lifecycle manager. Each feature handler fails soft: a failure in one
// never disables the others or crashes the session.
type Router struct {
	adapter    *Adapter
	bus        *bus.Bus
	cache      *retention.Cache
	recovery   *recovery.Engine
	engage     *engage.Watcher
	antiDelete bool
	logger     *zap.Logger
}

// NewRouter creates the event router.
func NewRouter(adapter *Adapter, b *bus.Bus, cache *retention.Cache, rec *recovery.Engine, watcher *engage.Watcher, antiDelete bool, logger *zap.Logger) *Router {
	return &Router{
		adapter:    adapter,
		bus:        b,
		cache:      cache,
		recovery:   rec,
		engage:     watcher,
		antiDelete: antiDelete,
		logger:     logger,
	}
}

// Handle is the whatsmeow event handler function.
func (r *Router) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		r.handleMessage(evt)
	case *events.Connected:
		r.logger.Info("WhatsApp connection open")
		r.bus.Publish(bus.Event{
			Kind:      bus.KindConnOpen,
			Timestamp: time.Now(),
			Payload:   bus.ConnOpenPayload{Self: r.adapter.Self().String()},
		})
	case *events.Disconnected:
		r.logger.Warn("WhatsApp connection closed")
		r.publishClosed("stream closed", false)
	case *events.StreamReplaced:
		r.logger.Warn("stream replaced by another client")
		r.publishClosed("stream replaced", false)
	case *events.LoggedOut:
		r.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		r.publishClosed(evt.Reason.String(), true)
	case *events.PairSuccess:
		r.handlePairSuccess(evt)
	case *events.CallOffer:
		r.bus.Publish(bus.Event{
			Kind:      bus.KindCall,
			Timestamp: time.Now(),
			Payload:   evt,
		})
	case *events.GroupInfo:
		r.bus.Publish(bus.Event{
			Kind:      bus.KindGroupUpdate,
			Timestamp: time.Now(),
			Payload:   evt,
		})
	}
}

func (r *Router) handleMessage(evt *events.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("message handler panicked",
				zap.String("msg_id", evt.Info.ID), zap.Any("panic", rec))
		}
	}()

	ctx := context.Background()

	if notice := revokeNotice(evt); notice != nil {
		if r.antiDelete {
			r.recovery.HandleDeletion(ctx, *notice)
		}
	} else if evt.Info.Chat == types.StatusBroadcastJID {
		r.engage.HandleStatus(ctx, evt)
	} else {
		if r.antiDelete && !evt.Info.IsFromMe && evt.Info.ID != "" {
			r.cache.Put(&retention.Message{
				ID:         evt.Info.ID,
				Chat:       evt.Info.Chat,
				Sender:     evt.Info.Sender,
				SenderName: evt.Info.PushName,
				Payload:    evt.Message,
				SentAt:     evt.Info.Timestamp,
			})
		}
		r.engage.HandleChat(ctx, evt)
	}

	// The raw event is re-exposed unmodified for the command router.
	r.bus.Publish(bus.Event{
		Kind:      bus.KindMessage,
		Timestamp: time.Now(),
		Payload:   evt,
	})
}

// revokeNotice extracts a deletion notice from a protocol-level revoke,
// or returns nil for ordinary messages.
func revokeNotice(evt *events.Message) *recovery.Notice {
	pm := evt.Message.GetProtocolMessage()
	if pm == nil || pm.GetType() != waE2E.ProtocolMessage_REVOKE || pm.GetKey() == nil {
		return nil
	}
	return &recovery.Notice{
		DeletedID: pm.GetKey().GetID(),
		Chat:      evt.Info.Chat,
		Deleter:   evt.Info.Sender,
		DeletedAt: evt.Info.Timestamp,
	}
}

func (r *Router) publishClosed(cause string, loggedOut bool) {
	r.bus.Publish(bus.Event{
		Kind:      bus.KindConnClosed,
		Timestamp: time.Now(),
		Payload:   bus.ConnClosedPayload{Cause: cause, LoggedOut: loggedOut},
	})
}

// handlePairSuccess announces the new device. The engine persists the
// credentials itself through its device store, which is the same file
// the bootstrapper materializes, so later bootstraps short-circuit on
// the on-disk step.
func (r *Router) handlePairSuccess(evt *events.PairSuccess) {
	r.logger.Info("pairing succeeded",
		zap.String("jid", evt.ID.String()),
		zap.String("platform", evt.Platform))

	r.bus.Publish(bus.Event{
		Kind:      bus.KindPaired,
		Timestamp: time.Now(),
		Payload:   evt.ID.String(),
	})
}
