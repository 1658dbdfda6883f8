// Package engine sequences one update run: take the cross-process lock,
// resolve the latest release, download and stage the archive, quiesce the
// service, mirror the staged files over the install directory, restart the
// service, and repair the scheduled trigger set. A failed update phase
// never prevents trigger reconciliation, and the lock is released on every
// exit path including panics.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/updraft-dev/updraft/internal/config"
	"github.com/updraft-dev/updraft/internal/guard"
	"github.com/updraft-dev/updraft/internal/release"
	"github.com/updraft-dev/updraft/internal/replace"
	"github.com/updraft-dev/updraft/internal/schedtask"
	"github.com/updraft-dev/updraft/internal/svcctl"
	"github.com/updraft-dev/updraft/pkg/logger"
)

// State is the orchestrator's position in the run.
type State int

// Run states, in sequence order. AbortedPhaseFailure absorbs any failure
// between Resolved and Restarted and always transitions forward to
// Reconciled.
const (
	StateIdle State = iota
	StateLockAcquired
	StateResolved
	StateFetched
	StateStaged
	StateStopped
	StateReplaced
	StateRestarted
	StateReconciled
	StateDone
	StateAbortedPhaseFailure
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLockAcquired:
		return "LockAcquired"
	case StateResolved:
		return "Resolved"
	case StateFetched:
		return "Fetched"
	case StateStaged:
		return "Staged"
	case StateStopped:
		return "Stopped"
	case StateReplaced:
		return "Replaced"
	case StateRestarted:
		return "Restarted"
	case StateReconciled:
		return "Reconciled"
	case StateDone:
		return "Done"
	case StateAbortedPhaseFailure:
		return "AbortedPhaseFailure"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is the run's externally visible result, mapped to the process
// exit code by the CLI.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeLockContended
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeLockContended:
		return "lock-contended"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Resolver finds the latest published release.
type Resolver interface {
	Latest(ctx context.Context, owner, repo string) (*release.Release, error)
}

// Fetcher downloads one asset to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string) error
}

// Stager extracts the downloaded archive into a clean staging directory.
type Stager interface {
	Stage(ctx context.Context, archivePath, targetDir string) error
}

// ServiceController quiesces and restarts the target service.
type ServiceController interface {
	Resolve(serviceName string) (*svcctl.Target, error)
	Stop(ctx context.Context, target *svcctl.Target) error
	Start(target *svcctl.Target) error
}

// Replacer mirrors the staged tree over the install directory.
type Replacer interface {
	Replace(ctx context.Context, stagedDir, installDir string) (replace.Result, error)
}

// Reconciler repairs the scheduled task's trigger set.
type Reconciler interface {
	Reconcile(taskName string, required []schedtask.TimeOfDay) ([]schedtask.TimeOfDay, error)
}

// History records run outcomes. Recording failures never fail the run.
type History interface {
	Begin(runID string, startedAt time.Time) error
	Finish(runID, finalState, version, errText string, finishedAt time.Time) error
}

// versionFileName is the marker file the archive ships with the installed
// version tag. Absent or unreadable, every published release is considered
// newer.
const versionFileName = "VERSION"

// Engine wires the phases of one update run together.
type Engine struct {
	cfg config.Config
	fs  afero.Fs
	log logger.Logger

	locker     guard.Locker
	resolver   Resolver
	fetcher    Fetcher
	stager     Stager
	svc        ServiceController
	replacer   Replacer
	reconciler Reconciler
	history    History

	now      func() time.Time
	newRunID func() string
}

// Deps bundles the collaborators of one Engine.
type Deps struct {
	Locker     guard.Locker
	Resolver   Resolver
	Fetcher    Fetcher
	Stager     Stager
	Service    ServiceController
	Replacer   Replacer
	Reconciler Reconciler
	History    History
	Fs         afero.Fs
}

// New creates an Engine. History may be nil; everything else is required.
func New(cfg config.Config, deps Deps, log logger.Logger) *Engine {
	fs := deps.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Engine{
		cfg:        cfg,
		fs:         fs,
		log:        log,
		locker:     deps.Locker,
		resolver:   deps.Resolver,
		fetcher:    deps.Fetcher,
		stager:     deps.Stager,
		svc:        deps.Service,
		replacer:   deps.Replacer,
		reconciler: deps.Reconciler,
		history:    deps.History,
		now:        time.Now,
		newRunID:   uuid.NewString,
	}
}

// Run performs one full update run and reports its outcome.
func (e *Engine) Run(ctx context.Context) (Outcome, error) {
	runID := e.newRunID()
	e.recordBegin(runID)
	e.log.Info("update run %s started", runID)

	lease, err := e.locker.Acquire(time.Duration(e.cfg.LockTimeout))
	if err != nil {
		// Lock failure is terminal for the whole run: another run owns the
		// machine and will do its own reconciliation.
		e.log.Error("[FAIL] could not acquire update lock: %v", err)
		e.recordFinish(runID, StateIdle, "", err)
		if errors.Is(err, guard.ErrLockTimeout) {
			return OutcomeLockContended, err
		}
		return OutcomeFailed, err
	}
	defer lease.Release()
	e.log.Info("update lock acquired")

	version, updErr := e.update(ctx)
	finalState := StateDone
	if updErr != nil {
		finalState = StateAbortedPhaseFailure
		e.log.Error("[FAIL] update aborted: %v", updErr)
	}

	// Schedule health is independent of update success: repair the trigger
	// set even after an aborted update.
	reconErr := e.reconcile()

	e.recordFinish(runID, finalState, version, updErr)

	if updErr == nil && reconErr == nil {
		e.log.Info("[OK] update run %s finished", runID)
		return OutcomeSuccess, nil
	}
	if updErr == nil {
		return OutcomeFailed, reconErr
	}
	return OutcomeFailed, updErr
}

// update runs the Resolved through Restarted phases. The deferred recover
// converts an unexpected fault in any phase into a run failure without
// crashing the process, so the lock release and the reconciliation phase
// still happen.
func (e *Engine) update(ctx context.Context) (version string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected fault in update phase: %v", r)
		}
	}()

	// Resolved.
	rel, err := e.resolver.Latest(ctx, e.cfg.Owner, e.cfg.Repo)
	if err != nil {
		return "", err
	}
	asset, err := rel.SelectAsset(release.ArchivePattern)
	if err != nil {
		return rel.TagName, err
	}
	e.log.Info("latest release is %s (asset %s)", rel.TagName, asset.Name)

	target, err := e.svc.Resolve(e.cfg.ServiceName)
	if err != nil {
		return rel.TagName, err
	}
	e.log.Info("service %s installed at %s", target.Name, target.InstallDir)

	installed := e.installedVersion(target.InstallDir)
	if installed != "" && !release.IsNewer(installed, rel.TagName) {
		e.log.Info("[OK] installed version %s is current, nothing to do", installed)
		return rel.TagName, nil
	}

	// Fetched.
	if err := e.fs.MkdirAll(e.cfg.WorkDir, 0755); err != nil {
		return rel.TagName, fmt.Errorf("creating work dir: %w", err)
	}
	archivePath := filepath.Join(e.cfg.WorkDir, asset.Name)
	// The downloaded artifact is scratch state; drop it whatever happens.
	defer e.fs.Remove(archivePath)

	if err := e.fetcher.Fetch(ctx, asset.DownloadURL, archivePath); err != nil {
		return rel.TagName, err
	}
	e.log.Info("downloaded %s", asset.Name)

	// Staged.
	stagedDir := filepath.Join(e.cfg.WorkDir, "staged")
	if err := e.stager.Stage(ctx, archivePath, stagedDir); err != nil {
		return rel.TagName, err
	}

	// Stopped.
	if err := e.svc.Stop(ctx, target); err != nil {
		return rel.TagName, err
	}

	// Replaced.
	res, err := e.replacer.Replace(ctx, stagedDir, target.InstallDir)
	if err != nil {
		return rel.TagName, err
	}
	e.log.Info("install directory mirrored: %s", res)

	// Restarted.
	if err := e.svc.Start(target); err != nil {
		return rel.TagName, err
	}

	e.log.Info("[OK] updated to %s", rel.TagName)
	return rel.TagName, nil
}

func (e *Engine) reconcile() error {
	added, err := e.reconciler.Reconcile(e.cfg.TaskName, schedtask.RequiredTimes)
	if err != nil {
		e.log.Error("[FAIL] trigger reconciliation: %v", err)
		return err
	}
	e.log.Info("[OK] trigger reconciliation finished, %d added", len(added))
	return nil
}

// installedVersion reads the version marker from the install directory.
// Best effort: a missing or unreadable marker means "always update".
func (e *Engine) installedVersion(installDir string) string {
	data, err := afero.ReadFile(e.fs, filepath.Join(installDir, versionFileName))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}

func (e *Engine) recordBegin(runID string) {
	if e.history == nil {
		return
	}
	if err := e.history.Begin(runID, e.now()); err != nil {
		e.log.Warning("could not record run start: %v", err)
	}
}

func (e *Engine) recordFinish(runID string, state State, version string, runErr error) {
	if e.history == nil {
		return
	}
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	if err := e.history.Finish(runID, state.String(), version, errText, e.now()); err != nil {
		e.log.Warning("could not record run finish: %v", err)
	}
}
