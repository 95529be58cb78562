package segment

import (
	"context"
	"fmt"
)

// AttributeSource loads attribute maps for users.
type AttributeSource interface {
	AttributesFor(ctx context.Context, userIDs []string) (map[string]Attributes, error)
}

// SegmentResolutionError wraps a failure to resolve a segment. Callers treat
// it as "no eligible members" and surface a warning.
type SegmentResolutionError struct {
	Err error
}

func (e *SegmentResolutionError) Error() string {
	if e == nil || e.Err == nil {
		return "segment: resolution failed"
	}
	return fmt.Sprintf("segment: resolution failed: %v", e.Err)
}

func (e *SegmentResolutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Matcher filters users against a query using an injected attribute source.
type Matcher struct {
	source AttributeSource
}

// NewMatcher returns a Matcher backed by source.
func NewMatcher(source AttributeSource) *Matcher {
	return &Matcher{source: source}
}

// Match returns the subset of userIDs satisfying query, preserving input
// order. A nil query matches everyone.
func (m *Matcher) Match(ctx context.Context, query *Node, userIDs []string) ([]string, error) {
	if query == nil || len(userIDs) == 0 {
		return append([]string(nil), userIDs...), nil
	}
	if err := Validate(*query); err != nil {
		return nil, &SegmentResolutionError{Err: err}
	}
	if m == nil || m.source == nil {
		return nil, &SegmentResolutionError{Err: fmt.Errorf("attribute source not configured")}
	}

	attrs, err := m.source.AttributesFor(ctx, userIDs)
	if err != nil {
		return nil, &SegmentResolutionError{Err: err}
	}

	matched := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if evaluate(*query, attrs[id]) {
			matched = append(matched, id)
		}
	}
	return matched, nil
}
