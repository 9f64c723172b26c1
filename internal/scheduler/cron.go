package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc is a cron-triggered unit of work.
type JobFunc func(ctx context.Context) error

// Cron runs jobs on cron expressions. A job still running when its next
// trigger fires is skipped rather than overlapped.
type Cron struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewCron builds a cron runner. Expressions use the standard five fields plus
// descriptors such as "@every 30s".
func NewCron(logger zerolog.Logger) *Cron {
	logger = logger.With().Str("component", "cron").Logger()
	cl := cronLogger{logger: logger}
	return &Cron{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Add registers job under name on the cron schedule. The job receives ctx.
func (c *Cron) Add(ctx context.Context, name, schedule string, job JobFunc) error {
	_, err := c.cron.AddFunc(schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if err := job(ctx); err != nil {
			c.logger.Error().Err(err).Str("job", name).Msg("cron job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register %s job: %w", name, err)
	}
	c.logger.Info().Str("job", name).Str("schedule", schedule).Msg("cron job registered")
	return nil
}

// Run starts the cron and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (c *Cron) Run(ctx context.Context) error {
	c.cron.Start()
	<-ctx.Done()
	<-c.cron.Stop().Done()
	c.logger.Info().Msg("cron stopped")
	return ctx.Err()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
