package pipeline

import (
	"sync"
	"sync/atomic"
)

// Admission bounds the number of requests in flight. TryAdmit never
// blocks: a request either gets a ticket immediately or is rejected so
// the caller can tell the client to retry later.
type Admission struct {
	limit    int64
	inflight atomic.Int64
}

// NewAdmission creates a controller allowing at most limit concurrent
// requests. A limit of zero or below disables admission entirely.
func NewAdmission(limit int) *Admission {
	return &Admission{limit: int64(limit)}
}

// Ticket represents one admitted slot. Release returns the slot and is
// safe to call more than once; only the first call counts.
type Ticket struct {
	release sync.Once
	adm     *Admission
}

// Release returns the slot to the controller.
func (t *Ticket) Release() {
	t.release.Do(func() {
		if t.adm != nil {
			t.adm.inflight.Add(-1)
		}
	})
}

// TryAdmit attempts to claim a slot. It returns a ticket and true on
// success, nil and false when the service is at capacity.
func (a *Admission) TryAdmit() (*Ticket, bool) {
	if a.limit <= 0 {
		return &Ticket{}, true
	}
	for {
		cur := a.inflight.Load()
		if cur >= a.limit {
			return nil, false
		}
		if a.inflight.CompareAndSwap(cur, cur+1) {
			return &Ticket{adm: a}, true
		}
	}
}

// InFlight reports the number of currently admitted requests.
func (a *Admission) InFlight() int {
	return int(a.inflight.Load())
}

// Limit reports the configured capacity, zero meaning unlimited.
func (a *Admission) Limit() int {
	return int(a.limit)
}
