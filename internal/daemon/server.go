package daemon

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/buddy/internal/agent"
	"github.com/matheus3301/buddy/internal/config"
	"github.com/matheus3301/buddy/internal/membership"
	"github.com/matheus3301/buddy/internal/status"
)

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>buddy — {{.Session}}</title></head>
<body>
<h1>buddy</h1>
<table>
<tr><td>Session</td><td>{{.Session}}</td></tr>
<tr><td>State</td><td><strong>{{.State}}</strong></td></tr>
{{if .Self}}<tr><td>Account</td><td>{{.Self}}</td></tr>{{end}}
<tr><td>Uptime</td><td>{{.Uptime}}</td></tr>
</table>
<h2>Features</h2>
<table>
<tr><td>Anti-delete</td><td>{{if .Features.AntiDelete}}on{{else}}off{{end}}</td></tr>
<tr><td>Auto-view status</td><td>{{if .Features.AutoViewStatus}}on{{else}}off{{end}}</td></tr>
<tr><td>Auto-like status</td><td>{{if .Features.AutoLikeStatus}}on{{else}}off{{end}}</td></tr>
<tr><td>Auto-react</td><td>{{if .Features.AutoReact}}on{{else}}off{{end}}</td></tr>
<tr><td>Status reply</td><td>{{if .Features.StatusReply}}on{{else}}off{{end}}</td></tr>
<tr><td>Connect notification</td><td>{{if .Features.ConnectNotification}}on{{else}}off{{end}}</td></tr>
</table>
{{if .LastCheck}}
<h2>Last membership check</h2>
<p>{{.LastCheck.At.Format "2006-01-02 15:04:05"}} — {{.LastCheck.Joined}} joined, {{.LastCheck.Already}} already in, {{.LastCheck.Failed}} failed</p>
<ul>
{{range .LastCheck.Outcomes}}<li>{{.Target}}: {{if .Joined}}joined{{else if .Already}}already a member{{else}}failed ({{.Class}}){{end}}</li>
{{end}}</ul>
{{end}}
</body>
</html>
`))

type pageData struct {
	Session   string
	State     status.State
	Self      string
	Uptime    time.Duration
	Features  config.Features
	LastCheck *membership.Summary
}

// Server exposes the local HTTP status page.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer binds the status page to the configured loopback address.
func NewServer(p Params, cfg *config.Config, machine *status.Machine, manager *agent.Manager, reconciler *membership.Reconciler, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.HTTPListen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.HTTPListen, err)
	}

	started := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		data := pageData{
			Session:   p.SessionName,
			State:     machine.Current(),
			Uptime:    time.Since(started).Round(time.Second),
			Features:  cfg.Features,
			LastCheck: reconciler.Last(),
		}
		if current := manager.Current(); current != nil {
			data.Self = current.Self
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := statusPage.Execute(w, data); err != nil {
			logger.Warn("status page render failed", zap.Error(err))
		}
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "%s\n", machine.Current())
	})

	return &Server{
		httpServer: &http.Server{Handler: mux},
		listener:   listener,
		logger:     logger,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start begins serving the status page. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("status page listening", zap.String("addr", s.Addr()))
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("status page stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
}
