// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Command pkdmirrord assembles and runs the PKD mirror's core trust-material
// pipeline: the dual-tier store, the validation and PA engines, the
// ingestion coordinator, and the reconciliation/ICAO-portal-check
// schedulers. HTTP transport, the upload API, and operator-facing surfaces
// are out of scope (§1) and are expected to be layered on top of the
// application context this command builds.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/icao-pkd/mirror/internal/config"
	"github.com/icao-pkd/mirror/internal/health"
	"github.com/icao-pkd/mirror/internal/icaoportal"
	"github.com/icao-pkd/mirror/internal/ingest"
	"github.com/icao-pkd/mirror/internal/pa"
	"github.com/icao-pkd/mirror/internal/reconcile"
	"github.com/icao-pkd/mirror/internal/scheduler"
	"github.com/icao-pkd/mirror/internal/store"
	"github.com/icao-pkd/mirror/internal/store/catalog"
	"github.com/icao-pkd/mirror/internal/store/directory"
	"github.com/icao-pkd/mirror/internal/validate"
	"github.com/icao-pkd/mirror/internal/xcrypto"
)

// defaultJobTimeout bounds a scheduled background job's run, per §5's
// "every outbound call has an explicit timeout" rule.
const defaultJobTimeout = 5 * time.Minute

// appContext is the assembled dependency graph for one running instance,
// per Design Note 9: a DAG wired explicitly in main, not a global service
// container.
type appContext struct {
	cfg         *config.Config
	cat         *catalog.Catalog
	dir         *directory.Directory
	store       *store.Store
	validator   *validate.Engine
	paEngine    *pa.Engine
	coordinator *ingest.Coordinator
	reconciler  *reconcile.Reconciler
	healthCheck *health.Checker
	portal      *icaoportal.Client
	sched       *scheduler.Scheduler
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log := cfg.Log

	log.Info().Str("version", config.Version()).Msg("starting")

	app, err := buildAppContext(cfg)
	if err != nil {
		return fmt.Errorf("assembling application context: %w", err)
	}
	defer app.cat.Close()

	app.startSchedulers()
	defer app.sched.Stop()

	log.Info().Msg("ready")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	return nil
}

func buildAppContext(cfg *config.Config) (*appContext, error) {
	cat, err := catalog.Open(catalog.Config{
		Host:           cfg.Catalog.Host,
		Port:           cfg.Catalog.Port,
		Name:           cfg.Catalog.Name,
		User:           cfg.Catalog.User,
		Password:       cfg.Catalog.Password,
		AcquireTimeout: cfg.Catalog.AcquireTimeout,
	}, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	dir := directory.New(directory.Config{
		ReadHosts:       cfg.Directory.ReadHosts,
		WriteHost:       cfg.Directory.WriteHost,
		BindDN:          cfg.Directory.BindDN,
		BindPassword:    cfg.Directory.BindPassword,
		BaseDN:          cfg.Directory.BaseDN,
		DataContainer:   cfg.Directory.DataContainer,
		NCDataContainer: cfg.Directory.NCDataContainer,
	}, cfg.Log)

	anchors, err := xcrypto.LoadTrustAnchors(cfg.Crypto.TrustAnchorPath)
	if err != nil {
		return nil, fmt.Errorf("loading trust anchors: %w", err)
	}

	st := store.New(cat, dir, cfg.Log)
	validator := validate.NewEngine(st, cfg.Log)
	paEngine := pa.NewEngine(st, validator, cfg.Log)
	coordinator := ingest.NewCoordinator(st, cat, validator, anchors, cfg.Log)
	reconciler := reconcile.New(cat, dir, cfg.Directory.DataContainer, cfg.Directory.NCDataContainer, cfg.Log)
	healthCheck := health.NewChecker(cat, dir)
	portal := icaoportal.NewClient(cfg.Scheduler.ICAOPortalURL, cfg.Log)
	sched := scheduler.New(cfg.Log)

	return &appContext{
		cfg:         cfg,
		cat:         cat,
		dir:         dir,
		store:       st,
		validator:   validator,
		paEngine:    paEngine,
		coordinator: coordinator,
		reconciler:  reconciler,
		healthCheck: healthCheck,
		portal:      portal,
		sched:       sched,
	}, nil
}

// startSchedulers wires the §5A background jobs and starts the scheduler.
// Errors scheduling a job are fatal at startup: a misconfigured cron
// expression should fail fast rather than silently never run.
func (app *appContext) startSchedulers() {
	log := app.cfg.Log

	if app.cfg.Processing.AutoReconcile {
		if err := app.sched.AddReconcile(app.cfg.Processing.SyncIntervalMinutes, app.runReconcile); err != nil {
			log.Fatal().Err(err).Msg("failed to schedule reconciliation job")
		}
	}

	if app.cfg.Scheduler.ICAOCheckEnabled {
		if err := app.sched.AddICAOPortalCheck(app.cfg.Scheduler.ICAOCheckHourLocal, app.runICAOPortalCheck); err != nil {
			log.Fatal().Err(err).Msg("failed to schedule ICAO portal check job")
		}
	}

	app.sched.Start()
}

func (app *appContext) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultJobTimeout)
	defer cancel()

	summary, err := app.reconciler.Run(ctx, false)
	if err != nil {
		app.cfg.Log.Error().Err(err).Msg("reconciliation run failed")
		return
	}
	app.cfg.Log.Info().
		Int("total_processed", summary.TotalProcessed).
		Int("success", summary.SuccessCount).
		Int("failed", summary.FailedCount).
		Msg("reconciliation run completed")
}

func (app *appContext) runICAOPortalCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultJobTimeout)
	defer cancel()

	lastVersion, err := app.cat.LatestVersionCheck(ctx)
	if err != nil {
		app.cfg.Log.Warn().Err(err).Msg("unable to determine last known ICAO portal version; treating as unknown")
	}

	if _, _, err := app.portal.CheckAndRecord(ctx, app.cat, lastVersion); err != nil {
		app.cfg.Log.Error().Err(err).Msg("ICAO portal version check failed")
	}
}
