package svcctl

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/updraft-dev/updraft/pkg/logger"
)

// fakeService implements Service for tests.
type fakeService struct {
	config    Config
	status    Status
	startErr  error
	stopErr   error
	started   bool
	stopped   bool
	configErr error
}

func (f *fakeService) Config() (Config, error) {
	if f.configErr != nil {
		return Config{}, f.configErr
	}
	return f.config, nil
}

func (f *fakeService) Status() (Status, error) { return f.status, nil }

func (f *fakeService) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.status = StatusRunning
	return nil
}

func (f *fakeService) Stop() error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = true
	f.status = StatusStopPending
	return nil
}

func (f *fakeService) Close() error { return nil }

// fakeManager implements Manager for tests.
type fakeManager struct {
	services map[string]*fakeService
}

func (f *fakeManager) OpenService(name string) (Service, error) {
	s, ok := f.services[name]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return s, nil
}

func (f *fakeManager) Close() error { return nil }

// fakeProcs implements ProcessLister; exitsAfter counts probes until the
// process is reported gone. Negative means it never exits.
type fakeProcs struct {
	exitsAfter int32
	probes     atomic.Int32
}

func (f *fakeProcs) Running(imageName string) (bool, error) {
	n := f.probes.Add(1)
	if f.exitsAfter < 0 {
		return true, nil
	}
	return n <= f.exitsAfter, nil
}

func newTestController(m *fakeManager, procs ProcessLister) (*Controller, *logger.MockLogger) {
	log := logger.NewMockLogger()
	c := NewController(func() (Manager, error) { return m, nil }, procs, log)
	c.DrainTimeout = 50 * time.Millisecond
	c.PollInterval = time.Millisecond
	return c, log
}

func TestParseExecutable(t *testing.T) {
	tests := []struct {
		name    string
		cmdline string
		want    string
		wantErr bool
	}{
		{
			name:    "quoted path with spaces and flag",
			cmdline: `"C:\Program Files\Svc\x y.exe" --flag`,
			want:    `C:\Program Files\Svc\x y.exe`,
		},
		{
			name:    "quoted path without arguments",
			cmdline: `"C:\Svc\agent.exe"`,
			want:    `C:\Svc\agent.exe`,
		},
		{
			name:    "unquoted path with arguments",
			cmdline: `C:\Windows\svc.exe -r debug`,
			want:    `C:\Windows\svc.exe`,
		},
		{
			name:    "unquoted bare path",
			cmdline: `C:\Windows\svc.exe`,
			want:    `C:\Windows\svc.exe`,
		},
		{
			name:    "surrounding whitespace",
			cmdline: `  C:\Windows\svc.exe  `,
			want:    `C:\Windows\svc.exe`,
		},
		{name: "empty", cmdline: "", wantErr: true},
		{name: "blank", cmdline: "   ", wantErr: true},
		{name: "unterminated quote", cmdline: `"C:\Svc\agent.exe --flag`, wantErr: true},
		{name: "empty quotes", cmdline: `""`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExecutable(tt.cmdline)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseExecutable(%q) = %q, want error", tt.cmdline, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseExecutable(%q): %v", tt.cmdline, err)
			}
			if got != tt.want {
				t.Errorf("ParseExecutable(%q) = %q, want %q", tt.cmdline, got, tt.want)
			}
		})
	}
}

func TestResolveDerivesTarget(t *testing.T) {
	m := &fakeManager{services: map[string]*fakeService{
		"AcmeAgent": {config: Config{BinaryPathName: `"C:\Program Files\Svc\x y.exe" --flag`}},
	}}
	c, _ := newTestController(m, &fakeProcs{})

	target, err := c.Resolve("AcmeAgent")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if target.ExePath != `C:\Program Files\Svc\x y.exe` {
		t.Errorf("ExePath = %q", target.ExePath)
	}
	if target.InstallDir != `C:\Program Files\Svc` {
		t.Errorf("InstallDir = %q, want C:\\Program Files\\Svc", target.InstallDir)
	}
	if target.ImageName != "x y.exe" {
		t.Errorf("ImageName = %q, want x y.exe", target.ImageName)
	}
}

func TestResolveUnknownService(t *testing.T) {
	m := &fakeManager{services: map[string]*fakeService{}}
	c, _ := newTestController(m, &fakeProcs{})

	_, err := c.Resolve("Ghost")
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("Resolve = %v, want ErrServiceNotFound", err)
	}
}

func TestStopWaitsForProcessExit(t *testing.T) {
	svc := &fakeService{status: StatusRunning}
	m := &fakeManager{services: map[string]*fakeService{"AcmeAgent": svc}}
	procs := &fakeProcs{exitsAfter: 3}
	c, log := newTestController(m, procs)

	target := &Target{Name: "AcmeAgent", ImageName: "agent.exe"}
	if err := c.Stop(context.Background(), target); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !svc.stopped {
		t.Error("service Stop was not requested")
	}
	if probes := procs.probes.Load(); probes < 4 {
		t.Errorf("exit probes = %d, want at least 4", probes)
	}
	if len(log.WarningCalls) != 0 {
		t.Errorf("unexpected warnings: %v", log.WarningCalls)
	}
}

func TestStopProceedsPastDrainTimeout(t *testing.T) {
	svc := &fakeService{status: StatusRunning}
	m := &fakeManager{services: map[string]*fakeService{"AcmeAgent": svc}}
	c, log := newTestController(m, &fakeProcs{exitsAfter: -1})

	target := &Target{Name: "AcmeAgent", ImageName: "agent.exe"}
	if err := c.Stop(context.Background(), target); err != nil {
		t.Fatalf("Stop: %v (timeout must not fail the run)", err)
	}
	if len(log.WarningCalls) != 1 || !strings.Contains(log.WarningCalls[0], "did not exit") {
		t.Errorf("expected one drain-timeout warning, got %v", log.WarningCalls)
	}
}

func TestStopAlreadyStoppedServiceSkipsControl(t *testing.T) {
	svc := &fakeService{status: StatusStopped}
	m := &fakeManager{services: map[string]*fakeService{"AcmeAgent": svc}}
	c, _ := newTestController(m, &fakeProcs{exitsAfter: 0})

	target := &Target{Name: "AcmeAgent", ImageName: "agent.exe"}
	if err := c.Stop(context.Background(), target); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if svc.stopped {
		t.Error("Stop control was sent to an already stopped service")
	}
}

func TestStartStartsStoppedService(t *testing.T) {
	svc := &fakeService{status: StatusStopped}
	m := &fakeManager{services: map[string]*fakeService{"AcmeAgent": svc}}
	c, _ := newTestController(m, &fakeProcs{})

	if err := c.Start(&Target{Name: "AcmeAgent"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !svc.started {
		t.Error("service was not started")
	}
}

func TestStartRunningServiceIsNoOp(t *testing.T) {
	svc := &fakeService{status: StatusRunning}
	m := &fakeManager{services: map[string]*fakeService{"AcmeAgent": svc}}
	c, _ := newTestController(m, &fakeProcs{})

	if err := c.Start(&Target{Name: "AcmeAgent"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if svc.started {
		t.Error("Start was sent to an already running service")
	}
}

func TestStartFailureIsFatal(t *testing.T) {
	svc := &fakeService{status: StatusStopped, startErr: errors.New("access denied")}
	m := &fakeManager{services: map[string]*fakeService{"AcmeAgent": svc}}
	c, _ := newTestController(m, &fakeProcs{})

	if err := c.Start(&Target{Name: "AcmeAgent"}); err == nil {
		t.Fatal("Start = nil, want error")
	}
}
