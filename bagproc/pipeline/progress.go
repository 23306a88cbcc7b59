package pipeline

import "sync"

// Status is the pipeline's lifecycle state. Completed and Failed are
// terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConnecting Status = "connecting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Progress is one observation of a pipeline's state. Values are copies;
// the pipeline alone mutates the underlying record.
type Progress struct {
	BagID    int64
	Status   Status
	Fraction float64 // in [0, 1], never decreasing across topic boundaries
	Message  string
}

// tracker owns a pipeline's progress record. Readers get copies via
// Snapshot or a bounded notification channel; updates never block on a
// slow consumer.
type tracker struct {
	mu     sync.Mutex
	cur    Progress
	notify chan Progress
}

func newTracker(bagID int64) *tracker {
	return &tracker{
		cur:    Progress{BagID: bagID, Status: StatusPending},
		notify: make(chan Progress, 16),
	}
}

func (t *tracker) set(status Status, fraction float64, message string) {
	t.mu.Lock()
	t.cur.Status = status
	t.cur.Fraction = fraction
	t.cur.Message = message
	snap := t.cur
	t.mu.Unlock()
	t.push(snap)
}

func (t *tracker) setFraction(fraction float64) {
	t.mu.Lock()
	t.cur.Fraction = fraction
	snap := t.cur
	t.mu.Unlock()
	t.push(snap)
}

// push never blocks the producer: when the buffer is full the oldest
// update is evicted so a slow observer coalesces toward the latest state.
func (t *tracker) push(snap Progress) {
	for {
		select {
		case t.notify <- snap:
			return
		default:
			select {
			case <-t.notify:
			default:
			}
		}
	}
}

// Snapshot returns a copy of the current progress.
func (t *tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// Notifications returns the bounded update stream. Rapid updates may be
// coalesced; the latest state is always available via Snapshot.
func (t *tracker) Notifications() <-chan Progress {
	return t.notify
}
