package interval

import "time"

// BinarySearchRangeIndex returns the largest index i such that
// starts[i] <= value, or -1 when no element qualifies. starts must be sorted
// ascending; equal values resolve to the later index.
func BinarySearchRangeIndex(starts []time.Time, value time.Time) int {
	lo, hi := 0, len(starts)-1
	result := -1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if !starts[mid].After(value) {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return result
}

// Index answers point and span queries over merged intervals in O(log n).
// It is immutable and built per request.
type Index struct {
	intervals []Interval
	starts    []time.Time
}

// NewIndex wraps an already merged sequence. Use BuildIndex for raw input.
func NewIndex(merged []Interval) *Index {
	starts := make([]time.Time, len(merged))
	for i, iv := range merged {
		starts[i] = iv.Start
	}
	return &Index{intervals: merged, starts: starts}
}

// BuildIndex merges raw intervals and indexes the result.
func BuildIndex(intervals []Interval) (*Index, error) {
	merged, err := Merge(intervals)
	if err != nil {
		return nil, err
	}
	return NewIndex(merged), nil
}

// Len returns the number of merged intervals.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.intervals)
}

// Intervals returns a copy of the indexed intervals.
func (ix *Index) Intervals() []Interval {
	if ix == nil || len(ix.intervals) == 0 {
		return nil
	}
	out := make([]Interval, len(ix.intervals))
	copy(out, ix.intervals)
	return out
}

// Busy reports whether point falls inside an indexed interval.
func (ix *Index) Busy(point time.Time) bool {
	if ix == nil {
		return false
	}
	i := BinarySearchRangeIndex(ix.starts, point)
	return i >= 0 && point.Before(ix.intervals[i].End)
}

// Overlaps reports whether [start, end) intersects any indexed interval.
// Empty spans never overlap.
func (ix *Index) Overlaps(start, end time.Time) bool {
	if ix == nil || !end.After(start) {
		return false
	}
	i := BinarySearchRangeIndex(ix.starts, end)
	if i >= 0 && ix.starts[i].Equal(end) {
		i--
	}
	return i >= 0 && ix.intervals[i].End.After(start)
}

// Contains reports whether [start, end) lies entirely inside one indexed interval.
func (ix *Index) Contains(start, end time.Time) bool {
	if ix == nil || end.Before(start) {
		return false
	}
	i := BinarySearchRangeIndex(ix.starts, start)
	return i >= 0 && ix.intervals[i].Covers(start, end) && start.Before(ix.intervals[i].End)
}

// Conflicts returns the indexed intervals intersecting [start, end).
func (ix *Index) Conflicts(start, end time.Time) []Interval {
	if ix == nil || !end.After(start) {
		return nil
	}
	i := BinarySearchRangeIndex(ix.starts, end)
	if i >= 0 && ix.starts[i].Equal(end) {
		i--
	}
	var out []Interval
	for ; i >= 0; i-- {
		if !ix.intervals[i].End.After(start) {
			break
		}
		out = append(out, ix.intervals[i])
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}
