package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/cosauth/internal/logging"
	"github.com/robfig/cron/v3"
)

const reconcileTimeout = 5 * time.Minute

// Reconciler is the part of Service the scheduler drives.
type Reconciler interface {
	Reconcile(ctx context.Context) (*Report, error)
}

// Scheduler runs Reconcile on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger logging.Logger
}

// NewScheduler parses schedule (standard five-field cron or descriptors such as
// "@every 10m").
func NewScheduler(schedule string, r Reconciler, logger logging.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	s := &Scheduler{cron: c, logger: logger}
	if _, err := c.AddFunc(schedule, func() { s.run(r) }); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) run(r Reconciler) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	if _, err := r.Reconcile(ctx); err != nil {
		s.logger.Error(ctx, "scheduled reconcile failed", "error", err)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for a running one to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
