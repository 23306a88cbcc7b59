package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerSnapshot(t *testing.T) {
	tr := newTracker(42)

	initial := tr.Snapshot()
	assert.Equal(t, int64(42), initial.BagID)
	assert.Equal(t, StatusPending, initial.Status)
	assert.Equal(t, 0.0, initial.Fraction)

	tr.set(StatusProcessing, 0.25, "processing topics")
	snap := tr.Snapshot()
	assert.Equal(t, StatusProcessing, snap.Status)
	assert.Equal(t, 0.25, snap.Fraction)
	assert.Equal(t, "processing topics", snap.Message)

	// setFraction preserves status and message.
	tr.setFraction(0.5)
	snap = tr.Snapshot()
	assert.Equal(t, StatusProcessing, snap.Status)
	assert.Equal(t, 0.5, snap.Fraction)
	assert.Equal(t, "processing topics", snap.Message)
}

func TestTrackerNeverBlocksProducer(t *testing.T) {
	tr := newTracker(1)

	// Far more updates than the buffer holds, with no consumer attached.
	for i := range 1000 {
		tr.set(StatusProcessing, float64(i)/1000, fmt.Sprintf("update %d", i))
	}
	tr.set(StatusCompleted, 1.0, "done")

	// The latest update is always observable: older buffered entries were
	// evicted to make room for it.
	var last Progress
	for {
		select {
		case p := <-tr.Notifications():
			last = p
			continue
		default:
		}
		break
	}
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, 1.0, last.Fraction)
}

func TestTrackerNotificationOrder(t *testing.T) {
	tr := newTracker(1)

	tr.set(StatusConnecting, 0, "opening bag store")
	tr.set(StatusProcessing, 0, "processing topics")
	tr.setFraction(0.5)
	tr.set(StatusCompleted, 1.0, "bag processing completed")

	want := []Status{StatusConnecting, StatusProcessing, StatusProcessing, StatusCompleted}
	for i, status := range want {
		select {
		case p := <-tr.Notifications():
			assert.Equal(t, status, p.Status, "update %d", i)
		default:
			require.Fail(t, "expected a buffered update", "update %d", i)
		}
	}
}
