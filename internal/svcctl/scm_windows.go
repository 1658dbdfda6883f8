//go:build windows

package svcctl

import (
	"fmt"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// windowsManager wraps the Windows Service Control Manager.
type windowsManager struct {
	mgr *mgr.Mgr
}

// windowsService wraps a Windows service handle.
type windowsService struct {
	svc *mgr.Service
}

// OpenManager opens a connection to the Windows Service Control Manager.
// The caller must call Close() when done.
func OpenManager() (Manager, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to service control manager: %w", err)
	}
	return &windowsManager{mgr: m}, nil
}

func (m *windowsManager) OpenService(name string) (Service, error) {
	s, err := m.mgr.OpenService(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open service %q: %w", name, ErrServiceNotFound)
	}
	return &windowsService{svc: s}, nil
}

func (m *windowsManager) Close() error {
	return m.mgr.Disconnect()
}

func (s *windowsService) Config() (Config, error) {
	cfg, err := s.svc.Config()
	if err != nil {
		return Config{}, err
	}
	return Config{BinaryPathName: cfg.BinaryPathName}, nil
}

func (s *windowsService) Status() (Status, error) {
	st, err := s.svc.Query()
	if err != nil {
		return 0, err
	}
	return Status(st.State), nil
}

func (s *windowsService) Start() error {
	return s.svc.Start()
}

func (s *windowsService) Stop() error {
	_, err := s.svc.Control(svc.Stop)
	return err
}

func (s *windowsService) Close() error {
	return s.svc.Close()
}
