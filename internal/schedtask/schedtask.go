// Package schedtask repairs the recurring trigger set of the scheduled task
// that invokes the updater. Installation creates the task once; this package
// only adds required daily run-times that have gone missing and enforces the
// no-overlapping-instances policy. It never removes triggers an operator
// added by hand.
package schedtask

import (
	"errors"
	"fmt"

	"github.com/updraft-dev/updraft/pkg/logger"
)

// ErrScheduleTaskMissing is returned when the task itself does not exist.
// Reconciliation assumes installation already created it, so this is
// reported loudly rather than repaired.
var ErrScheduleTaskMissing = errors.New("scheduled task does not exist")

// TimeOfDay is a daily trigger boundary with no date component.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// RequiredTimes is the fixed set of daily run-times every installation must
// carry. Reconciliation guarantees the trigger set is a superset of these.
var RequiredTimes = []TimeOfDay{
	{7, 0}, {9, 0}, {11, 0}, {13, 0}, {15, 0}, {17, 0},
}

// TaskStore is the scheduled-trigger store collaborator. The production
// implementation talks to the OS task scheduler; tests use an in-memory
// fake.
type TaskStore interface {
	// Triggers returns the task's current daily trigger times.
	// Returns ErrScheduleTaskMissing if the task is not registered.
	Triggers(taskName string) ([]TimeOfDay, error)

	// AddDailyTriggers appends one new daily trigger per given time,
	// leaving all existing triggers untouched.
	AddDailyTriggers(taskName string, times []TimeOfDay) error

	// SetNoOverlap enforces the "ignore a new instance while one is
	// running" policy on the task.
	SetNoOverlap(taskName string) error
}

// Reconciler repairs a task's trigger set against a required time set.
type Reconciler struct {
	store TaskStore
	log   logger.Logger
}

// NewReconciler creates a Reconciler over store.
func NewReconciler(store TaskStore, log logger.Logger) *Reconciler {
	return &Reconciler{store: store, log: log}
}

// Reconcile adds one daily trigger per required time missing from the task
// and enforces the no-overlap policy. Existing triggers, including custom
// ones outside the required set, are preserved. Returns the times added.
func (r *Reconciler) Reconcile(taskName string, required []TimeOfDay) ([]TimeOfDay, error) {
	existing, err := r.store.Triggers(taskName)
	if err != nil {
		return nil, fmt.Errorf("reading triggers of task %q: %w", taskName, err)
	}

	present := make(map[TimeOfDay]bool, len(existing))
	for _, t := range existing {
		present[t] = true
	}

	var missing []TimeOfDay
	for _, t := range required {
		if !present[t] {
			missing = append(missing, t)
		}
	}

	if len(missing) > 0 {
		if err := r.store.AddDailyTriggers(taskName, missing); err != nil {
			return nil, fmt.Errorf("adding triggers to task %q: %w", taskName, err)
		}
		for _, t := range missing {
			r.log.Info("added missing daily trigger %s to task %s", t, taskName)
		}
	} else {
		r.log.Info("task %s already carries all %d required triggers", taskName, len(required))
	}

	if err := r.store.SetNoOverlap(taskName); err != nil {
		return missing, fmt.Errorf("enforcing no-overlap policy on task %q: %w", taskName, err)
	}
	return missing, nil
}
