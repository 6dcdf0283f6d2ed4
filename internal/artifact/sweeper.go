package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field expressions and descriptors like "@every 5m".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a sweep schedule expression
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Sweeper evicts artifacts older than the retention window on a cron schedule.
type Sweeper struct {
	store     Store
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
	cron      *cron.Cron
}

// NewSweeper schedules sweeps of store. Call Start to begin.
func NewSweeper(store Store, schedule string, retention time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		store:     store,
		retention: retention,
		logger:    logger.With("component", "sweeper"),
		now:       time.Now,
		cron:      cron.New(cron.WithParser(cronParser)),
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.SweepOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule in the background
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// SweepOnce evicts expired artifacts now and returns how many went.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	cutoff := s.now().Add(-s.retention)
	n, err := s.store.Sweep(ctx, cutoff)
	if err != nil {
		s.logger.Error("sweeping artifacts", "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Info("swept expired artifacts", "count", n, "cutoff", cutoff)
	}
	return n
}
