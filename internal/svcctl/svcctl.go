// Package svcctl quiesces and restarts the target service. It resolves the
// service's install directory from its registered command line, stops the
// service and waits for the underlying process to fully exit, and starts it
// again after replacement.
package svcctl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/updraft-dev/updraft/internal/retry"
	"github.com/updraft-dev/updraft/pkg/logger"
)

// Sentinel errors for service control.
var (
	// ErrServiceNotFound is returned when the named service is not
	// registered with the service control manager.
	ErrServiceNotFound = errors.New("service not found")
)

// Status represents the current state of a service, matching the Windows
// SERVICE_STATUS dwCurrentState values.
type Status uint32

// Service status constants.
const (
	StatusStopped      Status = 1
	StatusStartPending Status = 2
	StatusStopPending  Status = 3
	StatusRunning      Status = 4
)

// String returns a human-readable representation of the service status.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "Stopped"
	case StatusStartPending:
		return "Start Pending"
	case StatusStopPending:
		return "Stop Pending"
	case StatusRunning:
		return "Running"
	default:
		return fmt.Sprintf("Unknown (%d)", uint32(s))
	}
}

// Config is the subset of the service registration the engine reads.
type Config struct {
	// BinaryPathName is the registered command line, possibly quoted and
	// possibly carrying arguments.
	BinaryPathName string
}

// Service is a handle to one registered service.
// This abstraction allows testing without actual service control calls.
type Service interface {
	// Config returns the service's registration config.
	Config() (Config, error)

	// Status returns the current service status.
	Status() (Status, error)

	// Start starts the service.
	Start() error

	// Stop requests the service to stop. The request returning does not
	// mean the process has exited.
	Stop() error

	// Close releases the service handle.
	Close() error
}

// Manager is a connection to the service control manager.
type Manager interface {
	// OpenService opens an existing service by name.
	// Returns ErrServiceNotFound if the service does not exist.
	OpenService(name string) (Service, error)

	// Close releases the manager handle.
	Close() error
}

// ProcessLister inspects running processes by image name.
type ProcessLister interface {
	// Running reports whether any process with the given image name
	// (e.g. "agent.exe") is currently running.
	Running(imageName string) (bool, error)
}

// Default wait budgets for quiescing.
const (
	DefaultDrainTimeout = 30 * time.Second
	DefaultPollInterval = time.Second
)

// Controller performs the stop/resolve/start operations of one update run.
type Controller struct {
	openManager func() (Manager, error)
	procs       ProcessLister
	log         logger.Logger

	// DrainTimeout bounds the wait for the service process to fully exit
	// after the stop request. The run proceeds regardless after the bound;
	// the copy step has its own lock tolerance.
	DrainTimeout time.Duration

	// PollInterval is the pause between exit probes.
	PollInterval time.Duration
}

// NewController creates a Controller using the given manager factory and
// process lister.
func NewController(openManager func() (Manager, error), procs ProcessLister, log logger.Logger) *Controller {
	return &Controller{
		openManager:  openManager,
		procs:        procs,
		log:          log,
		DrainTimeout: DefaultDrainTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// Target is the resolved identity of the service being updated. Derived
// fresh from live service metadata each run: the install path is not stored
// anywhere else, and re-deriving it keeps the engine correct if the service
// was ever re-registered out-of-band.
type Target struct {
	Name       string
	ExePath    string
	ImageName  string
	InstallDir string
}

// Resolve derives the Target for serviceName from its registration.
func (c *Controller) Resolve(serviceName string) (*Target, error) {
	m, err := c.openManager()
	if err != nil {
		return nil, fmt.Errorf("opening service manager: %w", err)
	}
	defer m.Close()

	s, err := m.OpenService(serviceName)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	cfg, err := s.Config()
	if err != nil {
		return nil, fmt.Errorf("reading config of service %q: %w", serviceName, err)
	}

	exePath, err := ParseExecutable(cfg.BinaryPathName)
	if err != nil {
		return nil, fmt.Errorf("parsing command line of service %q: %w", serviceName, err)
	}

	return &Target{
		Name:       serviceName,
		ExePath:    exePath,
		ImageName:  baseOf(exePath),
		InstallDir: containingDir(exePath),
	}, nil
}

// Stop requests the service to stop, then waits up to DrainTimeout for the
// underlying process to fully exit. A service can report "stopped" while
// its process still holds file handles, so the wait is on the process, not
// the status. Past the bound the run proceeds anyway.
func (c *Controller) Stop(ctx context.Context, target *Target) error {
	m, err := c.openManager()
	if err != nil {
		return fmt.Errorf("opening service manager: %w", err)
	}
	defer m.Close()

	s, err := m.OpenService(target.Name)
	if err != nil {
		return err
	}
	defer s.Close()

	status, err := s.Status()
	if err != nil {
		return fmt.Errorf("querying status of service %q: %w", target.Name, err)
	}

	if status == StatusStopped {
		c.log.Info("service %s is already stopped", target.Name)
	} else {
		if err := s.Stop(); err != nil {
			return fmt.Errorf("stopping service %q: %w", target.Name, err)
		}
		c.log.Info("stop requested for service %s", target.Name)
	}

	err = retry.Do(ctx, retry.Policy{Interval: c.PollInterval, Deadline: c.DrainTimeout}, func() error {
		running, err := c.procs.Running(target.ImageName)
		if err != nil {
			return err
		}
		if running {
			return fmt.Errorf("process %s still running", target.ImageName)
		}
		return nil
	})
	if err != nil {
		c.log.Warning("process %s did not exit within %s, proceeding anyway", target.ImageName, c.DrainTimeout)
	}
	return nil
}

// Start starts the service. A no-op if it is already running; any other
// failure is fatal to the run, because the service must end up running.
func (c *Controller) Start(target *Target) error {
	m, err := c.openManager()
	if err != nil {
		return fmt.Errorf("opening service manager: %w", err)
	}
	defer m.Close()

	s, err := m.OpenService(target.Name)
	if err != nil {
		return err
	}
	defer s.Close()

	status, err := s.Status()
	if err == nil && status == StatusRunning {
		c.log.Info("service %s is already running", target.Name)
		return nil
	}

	if err := s.Start(); err != nil {
		return fmt.Errorf("starting service %q: %w", target.Name, err)
	}
	c.log.Info("service %s started", target.Name)
	return nil
}
