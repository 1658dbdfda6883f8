package svcctl

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// systemProcessLister implements ProcessLister against the live process
// table.
type systemProcessLister struct{}

// NewProcessLister returns a ProcessLister backed by the OS process table.
func NewProcessLister() ProcessLister {
	return systemProcessLister{}
}

func (systemProcessLister) Running(imageName string) (bool, error) {
	procs, err := process.Processes()
	if err != nil {
		return false, err
	}
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			// Processes can vanish between listing and inspection.
			continue
		}
		if strings.EqualFold(name, imageName) {
			return true, nil
		}
	}
	return false, nil
}
