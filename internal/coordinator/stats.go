package coordinator

import (
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

// Stats summarises the requests a coordinator has seen
type Stats struct {
	Requests      int64               `json:"requests"`
	Succeeded     int64               `json:"succeeded"`
	Failed        int64               `json:"failed"`
	Rejected      int64               `json:"rejected"`
	LastErrorKind detection.ErrorKind `json:"last_error_kind,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	LastErrorAt   *time.Time          `json:"last_error_at,omitempty"`
}

type stats struct {
	mu sync.Mutex
	s  Stats
}

func (st *stats) request() {
	st.mu.Lock()
	st.s.Requests++
	st.mu.Unlock()
}

func (st *stats) rejected() {
	st.mu.Lock()
	st.s.Rejected++
	st.mu.Unlock()
}

func (st *stats) succeeded() {
	st.mu.Lock()
	st.s.Succeeded++
	st.mu.Unlock()
}

func (st *stats) failed(err error, at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Failed++
	st.s.LastError = err.Error()
	st.s.LastErrorKind, _ = detection.KindOf(err)
	st.s.LastErrorAt = &at
}

func (st *stats) snapshot() Stats {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.s
	if st.s.LastErrorAt != nil {
		t := *st.s.LastErrorAt
		out.LastErrorAt = &t
	}
	return out
}
