// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package scheduler drives the two periodic background jobs named in §5A:
// the auto-reconcile pass (processing.sync_interval_minutes) and the ICAO
// portal version check (scheduler.icao_check_hour_local). Both run under
// a single robfig/cron/v3 instance with panic recovery so a failing job
// never takes the scheduler down.
package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler wraps a cron.Cron instance configured with panic-recovering,
// chained job wrappers, per §5A.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New constructs a Scheduler. Standard five-field cron expressions are
// used throughout (no seconds field), matching the §6
// scheduler.icao_check_hour_local granularity.
func New(log zerolog.Logger) *Scheduler {
	sub := log.With().Str("component", "scheduler").Logger()
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{sub}),
	))
	return &Scheduler{cron: c, log: sub}
}

// AddReconcile schedules the reconciliation pass at "@every <n>m", per
// processing.sync_interval_minutes.
func (s *Scheduler) AddReconcile(intervalMinutes int, job func()) error {
	spec := fmt.Sprintf("@every %dm", intervalMinutes)
	_, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("scheduling reconciliation job %q: %w", spec, err)
	}
	return nil
}

// AddICAOPortalCheck schedules the ICAO portal version check daily at
// hourLocal:00, per scheduler.icao_check_hour_local.
func (s *Scheduler) AddICAOPortalCheck(hourLocal int, job func()) error {
	spec := fmt.Sprintf("0 %d * * *", hourLocal)
	_, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("scheduling ICAO portal check job %q: %w", spec, err)
	}
	return nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for any running job to complete.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger adapts zerolog.Logger to cron.Logger so cron.Recover's panic
// reports land in the same structured log as everything else.
type cronLogger struct {
	log zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Info().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
