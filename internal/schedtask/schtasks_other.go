//go:build !windows

package schedtask

// NewSystemTaskStore returns a TaskStore that reports the task as missing;
// there is no task scheduler to reconcile off Windows. Tests inject fake
// stores instead.
func NewSystemTaskStore() TaskStore {
	return missingStore{}
}

type missingStore struct{}

func (missingStore) Triggers(taskName string) ([]TimeOfDay, error) {
	return nil, ErrScheduleTaskMissing
}

func (missingStore) AddDailyTriggers(taskName string, times []TimeOfDay) error {
	return ErrScheduleTaskMissing
}

func (missingStore) SetNoOverlap(taskName string) error {
	return ErrScheduleTaskMissing
}
