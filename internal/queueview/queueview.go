// Package queueview derives the "now serving / up next" view of one counter
// from a polled queue snapshot.
package queueview

import (
	"fmt"

	"daso/internal/models"
)

// AnomalyKind names a data-integrity condition found in a snapshot.
type AnomalyKind string

// DuplicateInProgress means more than one entry is in progress at the counter.
const DuplicateInProgress AnomalyKind = "duplicate_in_progress"

// Anomaly is a data-integrity condition that was resolved by a tie-break.
type Anomaly struct {
	Kind    AnomalyKind
	Counter int
	IDs     []int64
	Chosen  int64
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s at counter %d: entries %v, serving %d", a.Kind, a.Counter, a.IDs, a.Chosen)
}

// View is what a counter renders. Current is nil when nobody is in progress
// at the counter and nobody is waiting.
type View struct {
	Counter   int
	Current   *models.QueueEntry
	Remaining []models.QueueEntry
	Anomalies []Anomaly
}

// Started reports whether the current customer has a service start time.
func (v View) Started() bool {
	return v.Current != nil && v.Current.StartTime != nil
}

// Derive picks the current customer for counter and lists the rest of the
// waiting queue in the snapshot's order. The input slice is not modified and
// the returned entries are copies.
//
// The current customer is the in-progress entry assigned to counter; if the
// snapshot holds several, the lowest id wins and an Anomaly is reported.
// Otherwise it is the first waiting or checked-in entry.
func Derive(queue []models.QueueEntry, counter int) View {
	view := View{Counter: counter}

	inProgress := -1
	firstWaiting := -1
	var dupIDs []int64
	for i := range queue {
		e := &queue[i]
		switch {
		case e.Status == models.StatusInProgress && e.IsAssignedTo(counter):
			dupIDs = append(dupIDs, e.ID)
			if inProgress < 0 || e.ID < queue[inProgress].ID {
				inProgress = i
			}
		case e.Status.IsWaiting() && firstWaiting < 0:
			firstWaiting = i
		}
	}

	cur := inProgress
	if cur < 0 {
		cur = firstWaiting
	}
	if cur >= 0 {
		c := queue[cur]
		view.Current = &c
	}
	if len(dupIDs) > 1 {
		view.Anomalies = append(view.Anomalies, Anomaly{
			Kind:    DuplicateInProgress,
			Counter: counter,
			IDs:     dupIDs,
			Chosen:  queue[inProgress].ID,
		})
	}

	for _, e := range queue {
		if !e.Status.IsWaiting() {
			continue
		}
		if view.Current != nil && e.ID == view.Current.ID {
			continue
		}
		view.Remaining = append(view.Remaining, e)
	}
	return view
}
