package testfixtures

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDGenerator(t *testing.T) {
	t.Parallel()

	g := NewIDGenerator("booking")
	assert.Equal(t, "booking-1", g.Next())
	assert.Equal(t, "booking-2", g.Next())
	assert.Equal(t, "id-1", NewIDGenerator("").Next())
}

func TestNewUUIDs(t *testing.T) {
	t.Parallel()

	first, second := NewUUIDs("bookings"), NewUUIDs("bookings")
	a := first()
	_, err := uuid.Parse(a)
	require.NoError(t, err)

	assert.Equal(t, a, second())
	assert.NotEqual(t, a, first())
}
