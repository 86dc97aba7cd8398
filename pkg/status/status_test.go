package status_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/status"
)

func TestAllowed_Ladder(t *testing.T) {
	all := []models.Status{
		models.StatusPending,
		models.StatusSent,
		models.StatusDelivered,
		models.StatusRead,
		models.StatusFailed,
	}

	tests := []struct {
		current   models.Status
		candidate models.Status
		want      bool
	}{
		{models.StatusSent, models.StatusDelivered, true},
		{models.StatusSent, models.StatusRead, true},
		{models.StatusDelivered, models.StatusRead, true},
		{models.StatusDelivered, models.StatusSent, false},
		{models.StatusRead, models.StatusDelivered, false},
		{models.StatusRead, models.StatusSent, false},
		{models.StatusRead, models.StatusFailed, false},
		{models.StatusPending, models.StatusSent, true},
		{models.StatusPending, models.StatusFailed, true},
		{models.StatusSent, models.StatusFailed, true},
	}

	for _, tt := range tests {
		got := status.Allowed(tt.current, tt.candidate)
		assert.Equal(t, tt.want, got, "Allowed(%s, %s)", tt.current, tt.candidate)
	}

	// read is terminal against every candidate.
	for _, candidate := range all {
		assert.False(t, status.Allowed(models.StatusRead, candidate),
			"read must be terminal, candidate=%s", candidate)
	}

	// same-state updates are commutative no-ops except from read.
	for _, s := range all {
		if s == models.StatusRead {
			continue
		}
		assert.True(t, status.Allowed(s, s), "same-state update from %s", s)
	}
}

func TestAllowed_OutOfOrderDelivery(t *testing.T) {
	// A delivered receipt arriving after the read receipt must not regress
	// the message.
	assert.False(t, status.Allowed(models.StatusRead, models.StatusDelivered))

	// A sent receipt arriving after the delivered receipt must not regress
	// the message either.
	assert.False(t, status.Allowed(models.StatusDelivered, models.StatusSent))

	// But delivered arriving before sent was observed is fine; the later
	// sent is the one that gets dropped.
	assert.True(t, status.Allowed(models.StatusSent, models.StatusDelivered))
}
