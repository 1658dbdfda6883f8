//go:build windows

package schedtask

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// schtasksStore implements TaskStore by round-tripping the task definition
// through schtasks.exe: export the XML definition, splice the edit in, and
// re-register it in place.
type schtasksStore struct{}

// NewSystemTaskStore returns the TaskStore backed by the Windows task
// scheduler.
func NewSystemTaskStore() TaskStore {
	return schtasksStore{}
}

func (schtasksStore) Triggers(taskName string) ([]TimeOfDay, error) {
	taskXML, err := exportTask(taskName)
	if err != nil {
		return nil, err
	}
	return startBoundaries(taskXML)
}

func (schtasksStore) AddDailyTriggers(taskName string, times []TimeOfDay) error {
	taskXML, err := exportTask(taskName)
	if err != nil {
		return err
	}
	updated, err := addCalendarTriggers(taskXML, times)
	if err != nil {
		return err
	}
	return registerTask(taskName, updated)
}

func (schtasksStore) SetNoOverlap(taskName string) error {
	taskXML, err := exportTask(taskName)
	if err != nil {
		return err
	}
	updated, err := forceIgnoreNew(taskXML)
	if err != nil {
		return err
	}
	if updated == taskXML {
		return nil
	}
	return registerTask(taskName, updated)
}

func exportTask(taskName string) (string, error) {
	out, err := exec.Command("schtasks", "/query", "/tn", taskName, "/xml").Output()
	if err != nil {
		if isMissingTask(err) {
			return "", fmt.Errorf("%w: %q", ErrScheduleTaskMissing, taskName)
		}
		return "", fmt.Errorf("exporting task %q: %w", taskName, err)
	}
	return string(out), nil
}

type exitCoder interface {
	ExitCode() int
}

// isMissingTask reports whether a schtasks /query failure means the task
// does not exist. schtasks exits with code 1 for an unknown task name; its
// stderr text is localized and cannot be matched.
func isMissingTask(err error) bool {
	var ec exitCoder
	return errors.As(err, &ec) && ec.ExitCode() == 1
}

func registerTask(taskName, taskXML string) error {
	tmp, err := os.CreateTemp("", "updraft-task-*.xml")
	if err != nil {
		return fmt.Errorf("creating task definition temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(taskXML); err != nil {
		tmp.Close()
		return fmt.Errorf("writing task definition: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing task definition: %w", err)
	}

	out, err := exec.Command("schtasks", "/create", "/tn", taskName, "/xml", filepath.Clean(tmpPath), "/f").CombinedOutput()
	if err != nil {
		return fmt.Errorf("re-registering task %q: %v: %s", taskName, err, out)
	}
	return nil
}
