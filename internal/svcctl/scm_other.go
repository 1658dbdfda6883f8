//go:build !windows

package svcctl

import "errors"

// OpenManager is unavailable off Windows; the engine is only deployed
// against a Windows service. Tests inject fake managers instead.
func OpenManager() (Manager, error) {
	return nil, errors.New("service control manager is only available on windows")
}
