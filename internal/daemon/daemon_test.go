package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/matheus3301/buddy/internal/agent"
	"github.com/matheus3301/buddy/internal/bus"
	"github.com/matheus3301/buddy/internal/config"
	"github.com/matheus3301/buddy/internal/membership"
	"github.com/matheus3301/buddy/internal/status"
)

func newTestServer(t *testing.T, cfg *config.Config, machine *status.Machine) *Server {
	t.Helper()
	b := bus.New()
	reconciler := membership.NewReconciler(nil, nil, nil, types.EmptyJID, 0, zap.NewNop())
	manager := agent.NewManager(nil, nil, reconciler, nil, machine, b, zap.NewNop(), agent.Options{})

	srv, err := NewServer(Params{SessionName: "test", Config: cfg}, cfg, machine, manager, reconciler, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { srv.Stop(context.Background()) })
	time.Sleep(20 * time.Millisecond)
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestStatusPageRendersState(t *testing.T) {
	cfg := config.Default()
	cfg.HTTPListen = "127.0.0.1:0"
	machine := status.NewMachine(nil)

	srv := newTestServer(t, cfg, machine)

	code, body := get(t, fmt.Sprintf("http://%s/", srv.Addr()))
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !strings.Contains(body, "BOOTING") {
		t.Errorf("page missing state, body:\n%s", body)
	}
	if !strings.Contains(body, "test") {
		t.Error("page missing session name")
	}
	// Default features: anti-delete on, auto-like off.
	if !strings.Contains(body, "Anti-delete") {
		t.Error("page missing feature table")
	}
}

func TestStatusPageReflectsTransitions(t *testing.T) {
	cfg := config.Default()
	cfg.HTTPListen = "127.0.0.1:0"
	machine := status.NewMachine(nil)

	srv := newTestServer(t, cfg, machine)

	_ = machine.Transition(status.Connecting)
	_ = machine.Transition(status.Open)

	code, body := get(t, fmt.Sprintf("http://%s/healthz", srv.Addr()))
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if strings.TrimSpace(body) != string(status.Open) {
		t.Errorf("healthz = %q, want %q", strings.TrimSpace(body), status.Open)
	}
}

func TestStatusPageSurvivesLogout(t *testing.T) {
	cfg := config.Default()
	cfg.HTTPListen = "127.0.0.1:0"
	machine := status.NewMachine(nil)

	srv := newTestServer(t, cfg, machine)

	// Terminal logout parks the machine in Stopped; the HTTP surface
	// must keep serving for as long as the process runs.
	mustTransition(t, machine, status.Connecting, status.Open, status.Stopped)

	code, body := get(t, fmt.Sprintf("http://%s/", srv.Addr()))
	if code != http.StatusOK {
		t.Fatalf("status page gone after logout: %d", code)
	}
	if !strings.Contains(body, string(status.Stopped)) {
		t.Errorf("page does not show %s, body:\n%s", status.Stopped, body)
	}

	code, health := get(t, fmt.Sprintf("http://%s/healthz", srv.Addr()))
	if code != http.StatusOK || strings.TrimSpace(health) != string(status.Stopped) {
		t.Errorf("healthz after logout = %d %q", code, health)
	}
}

func mustTransition(t *testing.T, m *status.Machine, states ...status.State) {
	t.Helper()
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%s) error = %v", s, err)
		}
	}
}

func TestServerRejectsBusyPort(t *testing.T) {
	cfg := config.Default()
	cfg.HTTPListen = "127.0.0.1:0"
	machine := status.NewMachine(nil)

	srv := newTestServer(t, cfg, machine)

	cfg2 := config.Default()
	cfg2.HTTPListen = srv.Addr()
	b := bus.New()
	reconciler := membership.NewReconciler(nil, nil, nil, types.EmptyJID, 0, zap.NewNop())
	manager := agent.NewManager(nil, nil, reconciler, nil, machine, b, zap.NewNop(), agent.Options{})

	if _, err := NewServer(Params{SessionName: "test", Config: cfg2}, cfg2, machine, manager, reconciler, zap.NewNop()); err == nil {
		t.Error("expected error binding an already-bound address")
	}
}
