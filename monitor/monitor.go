/*
monitor.go - Policy expiration monitor

PURPOSE:
  Logs exactly one notification per insurance policy when its coverage
  lapses, and marks the policy so it is never processed again.

DESIGN:
  - Runs a startup reconciliation pass once, then a window pass every
    10 minutes until the context is cancelled
  - A policy lapses at ExpiryInstant: local midnight after the end date,
    plus a one day grace period
  - A pass notifies policies whose expiry falls in (now-1h, now]
  - The startup pass also marks, silently, backlog policies that lapsed
    before the window (e.g. while the process was down)
  - Each pass reads candidates and writes markers in one store transaction
  - A failing pass is logged and the loop continues

LIFECYCLE:
  Run(ctx) blocks until ctx is cancelled. Start/Stop wrap Run in a goroutine
  owned by the monitor. Cancellation interrupts the idle wait, never a pass.

USAGE:
  m := monitor.New(store, monitor.WithLogger(log))
  m.Start()
  // ... later
  m.Stop()

SEE ALSO:
  - expiry.go: expiry instant rule and prefilters
  - api/handlers.go: status and manual scan endpoints
*/
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/car-insurance/insurance"
)

// PassKind names the two pass flavours.
type PassKind string

const (
	PassStartup PassKind = "startup"
	PassWindow  PassKind = "window"
)

// PassResult summarizes one pass. Counts are zero when Err is set, since
// nothing was committed.
type PassResult struct {
	ID         string
	Kind       PassKind
	StartedAt  time.Time
	Candidates int
	Notified   int
	Suppressed int
	Err        error
}

// Status is a snapshot of the monitor for operators.
type Status struct {
	Running         bool
	LastStartup     *PassResult
	LastWindow      *PassResult
	NextRun         time.Time
	TotalNotified   int
	TotalSuppressed int
}

// Monitor is the policy expiration background task.
type Monitor struct {
	store     insurance.ExpirationStore
	clock     insurance.Clock
	log       logrus.FieldLogger
	schedule  cron.Schedule
	metrics   *Metrics
	notifiers []Notifier
	sleep     func(ctx context.Context, d time.Duration) error

	// passMu allows a single pass at a time, loop or manual.
	passMu sync.Mutex

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithClock(c insurance.Clock) Option { return func(m *Monitor) { m.clock = c } }

func WithLogger(l logrus.FieldLogger) Option { return func(m *Monitor) { m.log = l } }

func WithMetrics(mt *Metrics) Option { return func(m *Monitor) { m.metrics = mt } }

func WithNotifiers(n ...Notifier) Option {
	return func(m *Monitor) { m.notifiers = append(m.notifiers, n...) }
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Monitor) { m.sleep = fn }
}

// New creates a monitor over store.
func New(store insurance.ExpirationStore, opts ...Option) *Monitor {
	m := &Monitor{
		store:    store,
		clock:    insurance.SystemClock{},
		log:      logrus.StandardLogger(),
		schedule: cron.Every(Interval),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Run executes the startup pass and then window passes until ctx is
// cancelled. It always returns nil; pass failures are logged.
func (m *Monitor) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	m.setRunning(true)
	defer m.setRunning(false)

	m.ReconcileStartup(ctx)

	for ctx.Err() == nil {
		m.ScanWindow(ctx)

		now := m.clock.Now()
		next := m.schedule.Next(now)
		m.setNextRun(next)

		if err := m.sleep(ctx, next.Sub(now)); err != nil {
			break
		}
	}
	return nil
}

// Start runs the monitor in a background goroutine.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	m.log.Infof("Expiration monitor started with check interval: %v", Interval)
}

// Stop cancels the background goroutine and waits for the current pass to
// finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.log.Info("Expiration monitor stopped")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// PASSES
// =============================================================================

// ReconcileStartup notifies policies that lapsed within the window and
// silently marks older backlog.
func (m *Monitor) ReconcileStartup(ctx context.Context) PassResult {
	return m.runPass(ctx, PassStartup)
}

// ScanWindow notifies policies that lapsed within the window. Backlog is
// left for the next startup pass.
func (m *Monitor) ScanWindow(ctx context.Context) PassResult {
	return m.runPass(ctx, PassWindow)
}

func (m *Monitor) runPass(ctx context.Context, kind PassKind) PassResult {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	// Shutdown must not abort a pass between its read and its write.
	ctx = context.WithoutCancel(ctx)

	res := PassResult{ID: uuid.NewString(), Kind: kind}
	began := time.Now()
	res.Err = m.processSafely(ctx, &res)
	m.metrics.observePass(kind, time.Since(began))

	if res.Err != nil {
		m.metrics.passFailed(kind)
		m.log.WithError(res.Err).WithFields(logrus.Fields{
			"pass":    kind,
			"pass_id": res.ID,
		}).Error(failureMessage(kind))
	}

	m.recordPass(res)
	return res
}

func failureMessage(kind PassKind) string {
	if kind == PassStartup {
		return "Startup processing failed."
	}
	return "Periodic processing failed."
}

func (m *Monitor) processSafely(ctx context.Context, res *PassResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			*res = PassResult{ID: res.ID, Kind: res.Kind, StartedAt: res.StartedAt}
			err = fmt.Errorf("panic during %s pass: %v", res.Kind, r)
		}
	}()
	return m.process(ctx, res)
}

func (m *Monitor) process(ctx context.Context, res *PassResult) error {
	now := m.clock.Now()
	windowStart := now.Add(-Window)
	res.StartedAt = now

	query := candidateQuery(res.Kind, now, windowStart)

	var (
		fresh      []Expiration
		candidates int
		suppressed int
	)
	err := m.store.WithinExpirationTx(ctx, func(tx insurance.ExpirationTx) error {
		policies, err := tx.PendingExpirations(ctx, query)
		if err != nil {
			return err
		}
		candidates = len(policies)

		var marked []insurance.PolicyID
		for _, p := range policies {
			expiry := ExpiryInstant(p.EndDate, now)

			switch classify(expiry, windowStart, now) {
			case stateJustExpired:
				e := Expiration{Policy: p, ExpiresAt: expiry, NotifiedAt: now}
				m.logExpiration(res, e)
				fresh = append(fresh, e)
				marked = append(marked, p.ID)
			case stateBacklog:
				if res.Kind == PassStartup {
					marked = append(marked, p.ID)
					suppressed++
				}
			}
		}

		if len(marked) == 0 {
			return nil
		}
		return tx.MarkExpirationNotified(ctx, marked, now)
	})
	if err != nil {
		return err
	}

	res.Candidates = candidates
	res.Notified = len(fresh)
	res.Suppressed = suppressed
	m.metrics.addNotified(res.Notified)
	m.metrics.addSuppressed(res.Suppressed)

	m.forward(ctx, fresh)
	return nil
}

func (m *Monitor) logExpiration(res *PassResult, e Expiration) {
	p := e.Policy
	m.log.WithFields(logrus.Fields{
		"pass":      res.Kind,
		"pass_id":   res.ID,
		"policy_id": p.ID,
		"car_id":    p.CarID,
		"provider":  p.Provider,
		"expiry":    e.ExpiresAt.Format(time.RFC3339),
		"end_date":  p.EndDate.String(),
	}).Infof("Policy %d (Car %d, Provider %s) expired at %s (EndDate %s).",
		p.ID, p.CarID, p.Provider, e.ExpiresAt.Format(time.RFC3339), p.EndDate)
}

func (m *Monitor) forward(ctx context.Context, fresh []Expiration) {
	for _, e := range fresh {
		for _, n := range m.notifiers {
			if err := n.NotifyExpiration(ctx, e); err != nil {
				m.log.WithError(err).WithField("policy_id", e.Policy.ID).
					Warn("Failed to forward expiration notification")
			}
		}
	}
}

// =============================================================================
// STATUS
// =============================================================================

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.status
	if s.LastStartup != nil {
		r := *s.LastStartup
		s.LastStartup = &r
	}
	if s.LastWindow != nil {
		r := *s.LastWindow
		s.LastWindow = &r
	}
	return s
}

func (m *Monitor) recordPass(res PassResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if res.Kind == PassStartup {
		m.status.LastStartup = &res
	} else {
		m.status.LastWindow = &res
	}
	m.status.TotalNotified += res.Notified
	m.status.TotalSuppressed += res.Suppressed
}

func (m *Monitor) setRunning(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Running = running
}

func (m *Monitor) setNextRun(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.NextRun = t
}
