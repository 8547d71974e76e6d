package cellular

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the framework's health assessment over every registered unit on
// a cron schedule. Only operational units are assessed; units still being
// created or already terminating are skipped.
type Sweeper struct {
	framework *Framework
	logger    Logger
	cron      *cron.Cron
}

// NewSweeper schedules a recurring health sweep. The schedule is a cron spec;
// descriptors such as "@every 30s" are accepted.
func NewSweeper(f *Framework, config SweepConfig, logger Logger) (*Sweeper, error) {
	if logger == nil {
		logger = NewNoopLogger()
	}

	s := &Sweeper{
		framework: f,
		logger:    logger,
		cron:      cron.New(),
	}
	if _, err := s.cron.AddFunc(config.Schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("%w: sweep.schedule %q: %v", ErrConfigInvalid, config.Schedule, err)
	}

	logger.Info("health sweep scheduled", "schedule", config.Schedule)
	return s, nil
}

// Start begins running sweeps on schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx := context.Background()
	assessed := 0

	for _, u := range s.framework.Units() {
		if !u.State().IsOperational() {
			continue
		}
		s.framework.Monitor().AssessAndRecover(ctx, u)
		assessed++
	}

	s.logger.Debug("health sweep complete", "assessed", assessed)
}
