package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/matheus3301/buddy/internal/bus"
	"github.com/matheus3301/buddy/internal/creds"
	"github.com/matheus3301/buddy/internal/membership"
	"github.com/matheus3301/buddy/internal/status"
)

type fakeEngine struct {
	loggedIn  bool
	connects  chan struct{}
	pairs     chan struct{}
	connected atomic.Int32
	paired    atomic.Int32
}

func newFakeEngine(loggedIn bool) *fakeEngine {
	return &fakeEngine{
		loggedIn: loggedIn,
		connects: make(chan struct{}, 16),
		pairs:    make(chan struct{}, 16),
	}
}

func (f *fakeEngine) IsLoggedIn() bool { return f.loggedIn }

func (f *fakeEngine) Connect() error {
	f.connected.Add(1)
	f.connects <- struct{}{}
	return nil
}

func (f *fakeEngine) Disconnect() {}

func (f *fakeEngine) PairAndConnect(_ context.Context) error {
	f.paired.Add(1)
	f.pairs <- struct{}{}
	return nil
}

type fakeBootstrapper struct {
	ready bool
}

func (f *fakeBootstrapper) Bootstrap(context.Context) (creds.Source, bool) {
	if f.ready {
		return creds.SourceDisk, true
	}
	return creds.SourceNone, false
}

type fakeReconciler struct {
	runs chan struct{}
}

func (f *fakeReconciler) Reconcile(context.Context) membership.Summary {
	f.runs <- struct{}{}
	return membership.Summary{Joined: 1}
}

type fakeNotifier struct {
	texts chan string
}

func (f *fakeNotifier) SendText(_ context.Context, _ types.JID, text string) error {
	f.texts <- text
	return nil
}

type harness struct {
	manager    *Manager
	engine     *fakeEngine
	reconciler *fakeReconciler
	notifier   *fakeNotifier
	machine    *status.Machine
	bus        *bus.Bus
	done       chan error
}

func newHarness(t *testing.T, loggedIn, ready bool, opts Options) *harness {
	t.Helper()
	b := bus.New()
	machine := status.NewMachine(b)
	engine := newFakeEngine(loggedIn)
	reconciler := &fakeReconciler{runs: make(chan struct{}, 16)}
	notifier := &fakeNotifier{texts: make(chan string, 16)}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = time.Millisecond
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = time.Millisecond
		opts.BackoffCap = 5 * time.Millisecond
	}
	if opts.CheckInterval == 0 {
		opts.CheckInterval = time.Hour
	}
	m := NewManager(engine, &fakeBootstrapper{ready: ready}, reconciler, notifier, machine, b, zap.NewNop(), opts)
	return &harness{
		manager:    m,
		engine:     engine,
		reconciler: reconciler,
		notifier:   notifier,
		machine:    machine,
		bus:        b,
		done:       make(chan error, 1),
	}
}

func (h *harness) run(ctx context.Context) {
	go func() { h.done <- h.manager.Run(ctx) }()
}

func (h *harness) waitConnect(t *testing.T) {
	t.Helper()
	select {
	case <-h.engine.connects:
	case <-time.After(2 * time.Second):
		t.Fatal("engine.Connect not called")
	}
}

func (h *harness) open(self string) {
	h.bus.Publish(bus.Event{
		Kind:      bus.KindConnOpen,
		Timestamp: time.Now(),
		Payload:   bus.ConnOpenPayload{Self: self},
	})
}

func (h *harness) close(loggedOut bool) {
	h.bus.Publish(bus.Event{
		Kind:      bus.KindConnClosed,
		Timestamp: time.Now(),
		Payload:   bus.ConnClosedPayload{Cause: "test", LoggedOut: loggedOut},
	})
}

func TestOpenTriggersReconcileAndNotification(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, true, true, Options{
		ConnectNotification: true,
		ReportTo:            types.NewJID("5511999990000", types.DefaultUserServer),
	})
	h.run(ctx)
	h.waitConnect(t)
	h.open("5511988887777@s.whatsapp.net")

	select {
	case <-h.reconciler.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("reconcile did not run after open")
	}
	select {
	case text := <-h.notifier.texts:
		if text == "" {
			t.Error("empty connect notification")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connect notification not sent")
	}

	// No extra reconcile without another open.
	select {
	case <-h.reconciler.runs:
		t.Fatal("unexpected second reconcile")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLogoutHaltsReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, true, true, Options{})
	h.run(ctx)
	h.waitConnect(t)
	h.open("self")
	h.close(true)

	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run returned %v, want nil on logout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after logout")
	}

	if got := h.machine.Current(); got != status.Stopped {
		t.Errorf("state = %s, want %s", got, status.Stopped)
	}
	if n := h.engine.connected.Load(); n != 1 {
		t.Errorf("connect attempts = %d, want 1", n)
	}
}

func TestRecoverableClosureReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, true, true, Options{})
	h.run(ctx)
	h.waitConnect(t)
	h.open("self")
	h.close(false)

	// A recoverable closure re-runs the full sequence: a second
	// connect attempt must follow after backoff.
	h.waitConnect(t)
	h.open("self")
	h.close(true)

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if n := h.engine.connected.Load(); n != 2 {
		t.Errorf("connect attempts = %d, want 2", n)
	}
}

func TestNoCredentialsStartsPairing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, false, false, Options{})
	pairRequired, unsub := h.bus.Subscribe(bus.KindPairRequired, 4)
	defer unsub()

	h.run(ctx)

	select {
	case <-h.engine.pairs:
	case <-time.After(2 * time.Second):
		t.Fatal("PairAndConnect not called")
	}
	select {
	case <-pairRequired:
	case <-time.After(2 * time.Second):
		t.Fatal("pair-required event not published")
	}
	if h.engine.connected.Load() != 0 {
		t.Error("plain Connect called without credentials")
	}
}

func TestBootstrappedBlobWithoutDeviceStartsPairing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap resolved a blob, but the engine did not register a
	// device from it (stale archive, foreign snapshot). A plain connect
	// would emit QR events nobody consumes and cycle on recoverable
	// closures forever; the manager must pair instead.
	h := newHarness(t, false, true, Options{})
	h.run(ctx)

	select {
	case <-h.engine.pairs:
	case <-time.After(2 * time.Second):
		t.Fatal("PairAndConnect not called for unauthenticated engine")
	}
	if h.engine.connected.Load() != 0 {
		t.Error("plain Connect called while engine is unauthenticated")
	}
}

func TestPeriodicReconcileFiresWithoutOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, true, true, Options{CheckInterval: 20 * time.Millisecond})
	h.run(ctx)
	h.waitConnect(t)

	// The session never opens; the periodic timer still runs passes.
	select {
	case <-h.reconciler.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("periodic reconcile never fired")
	}
}

func TestContextCancelStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	h := newHarness(t, true, true, Options{})
	h.run(ctx)
	h.waitConnect(t)
	cancel()

	select {
	case err := <-h.done:
		if err == nil {
			t.Error("Run returned nil, want context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
