// -- pkg/agent/history.go --
package agent

// History is the bounded, FIFO cycle history for one run. When the limit is
// reached the oldest record is evicted first. It is not goroutine safe; the
// orchestrator is its only writer and reader on the hot path.
type History struct {
	limit   int
	records []CycleRecord
}

// NewHistory creates a history bounded to limit entries. A non-positive
// limit falls back to a single entry so the invariant "length <= bound"
// always holds.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 1
	}
	return &History{limit: limit}
}

// Append adds a record, evicting the oldest entry when full.
func (h *History) Append(rec CycleRecord) {
	if len(h.records) >= h.limit {
		// Shift instead of reslice so the backing array does not pin
		// evicted records.
		copy(h.records, h.records[1:])
		h.records[len(h.records)-1] = rec
		return
	}
	h.records = append(h.records, rec)
}

// Len returns the current number of records.
func (h *History) Len() int { return len(h.records) }

// Limit returns the configured bound.
func (h *History) Limit() int { return h.limit }

// Tail returns a copy of the most recent n records, oldest first. n larger
// than the current length returns everything.
func (h *History) Tail(n int) []CycleRecord {
	if n <= 0 {
		return nil
	}
	if n > len(h.records) {
		n = len(h.records)
	}
	out := make([]CycleRecord, n)
	copy(out, h.records[len(h.records)-n:])
	return out
}

// Records returns a copy of the full history, oldest first.
func (h *History) Records() []CycleRecord {
	return h.Tail(len(h.records))
}
