package scheduler

import (
	"time"

	"github.com/example/availability-engine/internal/interval"
)

// Conflict details a busy interval that blocks a proposed booking for one host.
type Conflict struct {
	HostID string
	With   interval.Interval
}

// DetectConflicts returns, per host in order, the busy intervals that
// intersect [start-bufferBefore, end+bufferAfter).
func DetectConflicts(busy map[string]*interval.Index, hostIDs []string, start, end time.Time, bufferBefore, bufferAfter time.Duration) []Conflict {
	from := start.Add(-bufferBefore)
	to := end.Add(bufferAfter)

	var conflicts []Conflict
	for _, id := range hostIDs {
		for _, iv := range busy[id].Conflicts(from, to) {
			conflicts = append(conflicts, Conflict{HostID: id, With: iv})
		}
	}
	return conflicts
}
