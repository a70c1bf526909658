package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Restarter restarts a stopped monitor
type Restarter interface {
	EnsureRunning(ctx context.Context) (bool, error)
}

// Keepalive periodically restarts the monitor after a disconnect
type Keepalive struct {
	cron     *cron.Cron
	target   Restarter
	schedule string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewKeepalive creates a keepalive job for a cron schedule such as "@every 5m"
func NewKeepalive(target Restarter, schedule string, logger zerolog.Logger) *Keepalive {
	log := logger.With().Str("component", "keepalive").Logger()
	return &Keepalive{
		cron:     cron.New(cron.WithLogger(cronLogger{log: log})),
		target:   target,
		schedule: schedule,
		timeout:  time.Minute,
		log:      log,
	}
}

// Start registers the check and starts the scheduler
func (k *Keepalive) Start(ctx context.Context) error {
	_, err := k.cron.AddFunc(k.schedule, func() {
		k.Check(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	k.cron.Start()
	k.log.Info().Str("schedule", k.schedule).Msg("keepalive started")
	return nil
}

// Stop stops the scheduler and waits for a running check
func (k *Keepalive) Stop() {
	<-k.cron.Stop().Done()
	k.log.Info().Msg("keepalive stopped")
}

// Check runs one check and reports whether the monitor was restarted
func (k *Keepalive) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	restarted, err := k.target.EnsureRunning(ctx)
	switch {
	case err != nil:
		k.log.Error().Err(err).Msg("monitor restart failed")
	case restarted:
		k.log.Info().Msg("monitor restarted")
	}
	return restarted && err == nil
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
