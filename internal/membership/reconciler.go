package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
)

// Joiner performs the idempotent join operation against the protocol
// engine. Implemented by the WhatsApp adapter; faked in tests.
type Joiner interface {
	JoinInvite(ctx context.Context, code string) (types.JID, error)
}

// Notifier delivers the aggregate summary, best effort.
type Notifier interface {
	SendText(ctx context.Context, to types.JID, text string) error
}

// Outcome is the per-target result of one join attempt.
type Outcome struct {
	Target  string
	Joined  bool
	Already bool
	Class   Class
	Err     error
}

// Summary aggregates one reconciliation run.
type Summary struct {
	RunID    string
	At       time.Time
	Joined   int
	Already  int
	Failed   int
	Outcomes []Outcome
}

// String renders the summary the way it is reported.
func (s Summary) String() string {
	return fmt.Sprintf("membership check %s: %d joined, %d already in, %d failed",
		s.RunID, s.Joined, s.Already, s.Failed)
}

// Reconciler walks the fixed target list in order and makes join state
// match it. A single target's failure (including a panic) is recorded
// and never aborts the walk.
type Reconciler struct {
	targets  []Target
	joiner   Joiner
	notifier Notifier
	reportTo types.JID
	pace     time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	last *Summary
}

// NewReconciler creates a reconciler over targets. pace is the fixed
// inter-attempt delay (not applied after the last target).
func NewReconciler(targets []Target, joiner Joiner, notifier Notifier, reportTo types.JID, pace time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		targets:  targets,
		joiner:   joiner,
		notifier: notifier,
		reportTo: reportTo,
		pace:     pace,
		logger:   logger,
	}
}

// Reconcile runs one pass over all targets and reports the aggregate
// summary to the configured recipient, best effort.
func (r *Reconciler) Reconcile(ctx context.Context) Summary {
	summary := Summary{
		RunID: uuid.NewString()[:8],
		At:    time.Now(),
	}

	for i, target := range r.targets {
		outcome := r.attempt(ctx, target)
		summary.Outcomes = append(summary.Outcomes, outcome)
		switch {
		case outcome.Joined:
			summary.Joined++
		case outcome.Already:
			summary.Already++
		default:
			summary.Failed++
		}

		if i < len(r.targets)-1 {
			select {
			case <-time.After(r.pace):
			case <-ctx.Done():
				r.logger.Warn("reconciliation interrupted", zap.String("run_id", summary.RunID))
				r.finish(ctx, summary)
				return summary
			}
		}
	}

	r.finish(ctx, summary)
	return summary
}

// Last returns the most recent summary, or nil before the first run.
func (r *Reconciler) Last() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reconciler) attempt(ctx context.Context, target Target) (outcome Outcome) {
	outcome = Outcome{Target: target.Name}
	defer func() {
		if rec := recover(); rec != nil {
			outcome.Joined = false
			outcome.Already = false
			outcome.Class = ClassOther
			outcome.Err = fmt.Errorf("join panicked: %v", rec)
			r.logger.Error("membership join panicked",
				zap.String("target", target.Name), zap.Any("panic", rec))
		}
	}()

	jid, err := r.joiner.JoinInvite(ctx, target.Code)
	if err == nil {
		outcome.Joined = true
		r.logger.Info("joined channel",
			zap.String("target", target.Name), zap.String("jid", jid.String()))
		return outcome
	}

	outcome.Class = Classify(err)
	outcome.Err = err
	if outcome.Class == ClassAlreadyMember {
		// Idempotent success.
		outcome.Already = true
		outcome.Err = nil
		return outcome
	}

	r.logger.Warn("failed to join channel",
		zap.String("target", target.Name),
		zap.String("class", string(outcome.Class)),
		zap.Error(err))
	return outcome
}

func (r *Reconciler) finish(ctx context.Context, summary Summary) {
	r.mu.Lock()
	s := summary
	r.last = &s
	r.mu.Unlock()

	r.logger.Info("membership reconciliation finished",
		zap.String("run_id", summary.RunID),
		zap.Int("joined", summary.Joined),
		zap.Int("already", summary.Already),
		zap.Int("failed", summary.Failed))

	if r.notifier == nil || r.reportTo.IsEmpty() {
		return
	}
	if err := r.notifier.SendText(ctx, r.reportTo, summary.String()); err != nil {
		r.logger.Warn("failed to report reconciliation summary", zap.Error(err))
	}
}
