package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/updraft-dev/updraft/internal/config"
	"github.com/updraft-dev/updraft/internal/engine"
	"github.com/updraft-dev/updraft/internal/fetch"
	"github.com/updraft-dev/updraft/internal/guard"
	"github.com/updraft-dev/updraft/internal/history"
	"github.com/updraft-dev/updraft/internal/release"
	"github.com/updraft-dev/updraft/internal/replace"
	"github.com/updraft-dev/updraft/internal/schedtask"
	"github.com/updraft-dev/updraft/internal/stage"
	"github.com/updraft-dev/updraft/internal/svcctl"
	"github.com/updraft-dev/updraft/pkg/logger"
)

// defaultConfigPath points at the config the installer writes next to the
// engine's data directory.
func defaultConfigPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("ProgramData"), "Updraft", "updraft.json")
	}
	return "updraft.json"
}

// buildLogger assembles the run log sink, echoing to the console when asked
// or when no log file is configured.
func buildLogger(c *cli.Context, cfg config.Config) (logger.Logger, error) {
	console := logger.NewStandardLogger(log.New(os.Stderr, "", log.LstdFlags))
	if cfg.LogFile == "" {
		return console, nil
	}
	var echo logger.Logger
	if c.GlobalBool("console") {
		echo = console
	}
	return logger.NewFileLogger(cfg.LogFile, echo)
}

func runUpdate(c *cli.Context) error {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return err
	}

	logg, err := buildLogger(c, cfg)
	if err != nil {
		return err
	}
	defer logg.Close()

	hc, info, err := fetch.NewClient(cfg.ProxyURL, time.Duration(cfg.FetchTimeout))
	if err != nil {
		return fmt.Errorf("building download client: %w", err)
	}

	fs := afero.NewOsFs()
	ctrl := svcctl.NewController(svcctl.OpenManager, svcctl.NewProcessLister(), logg)
	ctrl.DrainTimeout = time.Duration(cfg.DrainTimeout)

	deps := engine.Deps{
		Locker:     guard.NewSystemLocker(cfg.LockName),
		Resolver:   release.NewClient(hc, "", cfg.UserAgent),
		Fetcher:    fetch.NewFetcher(fs, hc, info, cfg.UserAgent, cfg.FetchAttempts, time.Duration(cfg.FetchRetryDelay), logg),
		Stager:     stage.New(fs, logg),
		Service:    ctrl,
		Replacer:   replace.New(fs, logg),
		Reconciler: schedtask.NewReconciler(schedtask.NewSystemTaskStore(), logg),
		Fs:         fs,
	}

	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			// The run is more important than its bookkeeping.
			logg.Warning("run history unavailable: %v", err)
		} else {
			defer store.Close()
			deps.History = store
		}
	}

	outcome, runErr := engine.New(cfg, deps, logg).Run(context.Background())
	switch outcome {
	case engine.OutcomeSuccess:
		return nil
	case engine.OutcomeLockContended:
		return cli.NewExitError(fmt.Sprintf("another update run holds the lock: %v", runErr), exitLockContended)
	default:
		return cli.NewExitError(fmt.Sprintf("update run failed: %v", runErr), exitFailed)
	}
}

func runReconcile(c *cli.Context) error {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return err
	}

	logg, err := buildLogger(c, cfg)
	if err != nil {
		return err
	}
	defer logg.Close()

	r := schedtask.NewReconciler(schedtask.NewSystemTaskStore(), logg)
	added, err := r.Reconcile(cfg.TaskName, schedtask.RequiredTimes)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("reconcile failed: %v", err), exitFailed)
	}
	fmt.Printf("task %s reconciled, %d triggers added\n", cfg.TaskName, len(added))
	return nil
}

func runHistory(c *cli.Context) error {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if cfg.HistoryDB == "" {
		return cli.NewExitError("no history_db configured", exitFailed)
	}

	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("opening history: %v", err), exitFailed)
	}
	defer store.Close()

	runs, err := store.Recent(c.Int("limit"))
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("reading history: %v", err), exitFailed)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATE\tVERSION\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.FinalState, r.Version, r.Error)
	}
	return w.Flush()
}
