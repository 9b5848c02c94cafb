package agent

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/matheus3301/buddy/internal/bus"
	"github.com/matheus3301/buddy/internal/creds"
	"github.com/matheus3301/buddy/internal/membership"
	"github.com/matheus3301/buddy/internal/status"
)

// Engine is the slice of the protocol adapter the lifecycle manager
// drives.
type Engine interface {
	IsLoggedIn() bool
	Connect() error
	Disconnect()
	PairAndConnect(ctx context.Context) error
}

// Bootstrapper resolves credentials before each connection attempt.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) (creds.Source, bool)
}

// Reconciler runs one membership reconciliation pass.
type Reconciler interface {
	Reconcile(ctx context.Context) membership.Summary
}

// Notifier delivers connect notifications, best effort.
type Notifier interface {
	SendText(ctx context.Context, to types.JID, text string) error
}

// Options tune the lifecycle manager.
type Options struct {
	// SettleDelay is waited before the first reconciliation after the
	// first open since process start.
	SettleDelay time.Duration
	// CheckInterval re-runs reconciliation regardless of connection
	// state.
	CheckInterval time.Duration
	// BackoffBase/BackoffCap bound the reconnect backoff.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// ReportTo receives connect notifications when
	// ConnectNotification is set.
	ReportTo            types.JID
	ConnectNotification bool
}

func (o *Options) applyDefaults() {
	if o.SettleDelay <= 0 {
		o.SettleDelay = 5 * time.Second
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 10 * time.Minute
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = time.Minute
	}
}

// Session is one logical connection attempt. A closed session is never
// reused: every reconnect creates a fresh handle.
type Session struct {
	Attempt   int
	CreatedAt time.Time
	Self      string
}

// Manager owns the single logical session: it bootstraps credentials,
// connects, reacts to open/closed events, reconnects with bounded
// exponential backoff on recoverable closures and halts permanently on
// logout. It also owns the periodic membership check timer.
type Manager struct {
	engine     Engine
	boot       Bootstrapper
	reconciler Reconciler
	notifier   Notifier
	machine    *status.Machine
	bus        *bus.Bus
	logger     *zap.Logger
	opts       Options

	firstOpen atomic.Bool

	mu      sync.Mutex
	current *Session
}

// NewManager creates a lifecycle manager.
func NewManager(engine Engine, boot Bootstrapper, reconciler Reconciler, notifier Notifier, machine *status.Machine, b *bus.Bus, logger *zap.Logger, opts Options) *Manager {
	opts.applyDefaults()
	m := &Manager{
		engine:     engine,
		boot:       boot,
		reconciler: reconciler,
		notifier:   notifier,
		machine:    machine,
		bus:        b,
		logger:     logger,
		opts:       opts,
	}
	m.firstOpen.Store(true)
	return m
}

// Current returns the session handle of the ongoing attempt, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Run drives the connection until ctx is cancelled or a terminal logout
// closure arrives. Recoverable closures restart the whole sequence from
// credential bootstrap.
func (m *Manager) Run(ctx context.Context) error {
	// Reliable subscription: a dropped conn.closed would leave the
	// manager waiting on a session that is already gone.
	events, unsub := m.bus.SubscribeReliable("conn.", 32)
	defer unsub()

	go m.periodicReconcile(ctx)

	backoff := m.opts.BackoffBase
	attempt := 0

	for {
		attempt++
		m.startSession(attempt)

		source, ready := m.boot.Bootstrap(ctx)
		m.logger.Info("starting connection attempt",
			zap.Int("attempt", attempt),
			zap.String("credential_source", string(source)),
			zap.Bool("ready", ready))

		// The engine's own view of the credentials is authoritative: a
		// bootstrapped blob that did not yield a registered device (stale
		// archive, foreign snapshot) still needs interactive pairing.
		var connErr error
		if !m.engine.IsLoggedIn() {
			_ = m.machine.Transition(status.AuthRequired)
			m.bus.Publish(bus.Event{Kind: bus.KindPairRequired, Timestamp: time.Now()})
			m.logger.Info("no usable credentials, starting interactive pairing")
			connErr = m.engine.PairAndConnect(ctx)
		} else {
			_ = m.machine.Transition(status.Connecting)
			connErr = m.engine.Connect()
		}

		terminal := false
		if connErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("connection attempt failed", zap.Error(connErr))
		} else {
			terminal = m.waitClosed(ctx, events, &backoff)
			if ctx.Err() != nil {
				m.engine.Disconnect()
				return ctx.Err()
			}
		}

		if terminal {
			m.logger.Warn("logged out, halting reconnect attempts")
			_ = m.machine.Transition(status.Stopped)
			return nil
		}

		_ = m.machine.Transition(status.Reconnecting)
		delay := withJitter(backoff)
		m.logger.Info("reconnecting", zap.Duration("delay", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, m.opts.BackoffCap)
	}
}

// waitClosed consumes conn.* events until the session closes. Returns
// whether the closure is terminal.
func (m *Manager) waitClosed(ctx context.Context, events <-chan bus.Event, backoff *time.Duration) bool {
	for {
		select {
		case evt := <-events:
			switch evt.Kind {
			case bus.KindConnOpen:
				// A successful open resets the backoff.
				*backoff = m.opts.BackoffBase
				m.handleOpen(ctx, evt)
			case bus.KindConnClosed:
				payload, ok := evt.Payload.(bus.ConnClosedPayload)
				if !ok {
					continue
				}
				m.logger.Warn("session closed",
					zap.String("cause", payload.Cause),
					zap.Bool("logged_out", payload.LoggedOut))
				return payload.LoggedOut
			}
		case <-ctx.Done():
			return false
		}
	}
}

func (m *Manager) handleOpen(ctx context.Context, evt bus.Event) {
	_ = m.machine.Transition(status.Open)

	self := ""
	if payload, ok := evt.Payload.(bus.ConnOpenPayload); ok {
		self = payload.Self
	}
	m.mu.Lock()
	if m.current != nil {
		m.current.Self = self
	}
	m.mu.Unlock()

	first := m.firstOpen.CompareAndSwap(true, false)
	m.logger.Info("session open", zap.String("self", self), zap.Bool("first", first))

	go func() {
		if first {
			select {
			case <-time.After(m.opts.SettleDelay):
			case <-ctx.Done():
				return
			}
		}
		m.safeReconcile(ctx, "connection open")
		m.notifyConnected(ctx, self)
	}()
}

func (m *Manager) notifyConnected(ctx context.Context, self string) {
	if !m.opts.ConnectNotification || m.notifier == nil || m.opts.ReportTo.IsEmpty() {
		return
	}
	text := fmt.Sprintf("✅ buddy online as %s", self)
	if err := m.notifier.SendText(ctx, m.opts.ReportTo, text); err != nil {
		m.logger.Warn("connect notification failed", zap.Error(err))
	}
}

func (m *Manager) periodicReconcile(ctx context.Context) {
	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Runs regardless of connection state: against a closed
			// session every join fails and is recorded, not raised.
			m.safeReconcile(ctx, "periodic")
		case <-ctx.Done():
			return
		}
	}
}

// safeReconcile runs one reconciliation pass, absorbing panics: a
// reconciliation failure is soft, never process-fatal.
func (m *Manager) safeReconcile(ctx context.Context, trigger string) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("membership reconciliation panicked",
				zap.String("trigger", trigger), zap.Any("panic", rec))
		}
	}()
	summary := m.reconciler.Reconcile(ctx)
	m.logger.Info("membership check done",
		zap.String("trigger", trigger),
		zap.Int("joined", summary.Joined),
		zap.Int("already", summary.Already),
		zap.Int("failed", summary.Failed))
}

func (m *Manager) startSession(attempt int) {
	m.mu.Lock()
	m.current = &Session{Attempt: attempt, CreatedAt: time.Now()}
	m.mu.Unlock()
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	// ±20% jitter.
	delta := time.Duration(float64(d) * 0.2)
	return d - delta + rand.N(2*delta)
}
