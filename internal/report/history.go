package report

import (
	"sync"
	"time"
)

// FailureSample is one launch failure or exhausted budget, kept for the
// daemon's /failures endpoint so the cause is visible without log diving.
type FailureSample struct {
	RunID   string    `json:"run_id"`
	Time    time.Time `json:"time"`
	Job     string    `json:"job"`
	Key     string    `json:"key"`
	Outcome Outcome   `json:"outcome"`
	Tries   int       `json:"tries"`
	Error   string    `json:"error,omitempty"`
}

// History is a ring buffer of recent failures
type History struct {
	samples []FailureSample
	maxSize int
	mu      sync.RWMutex
}

// NewHistory creates a history keeping the last maxSize failures
func NewHistory(maxSize int) *History {
	if maxSize <= 0 {
		maxSize = 50
	}
	return &History{
		samples: make([]FailureSample, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record adds the failed results of r
func (h *History) Record(r *RunReport) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, res := range r.Results {
		if !res.Failed() {
			continue
		}
		if len(h.samples) >= h.maxSize {
			h.samples = h.samples[1:]
		}
		h.samples = append(h.samples, FailureSample{
			RunID:   r.RunID,
			Time:    r.EndTime,
			Job:     res.Job,
			Key:     res.Key,
			Outcome: res.Outcome,
			Tries:   res.Tries,
			Error:   res.Error,
		})
	}
}

// Recent returns up to n failures, newest first
func (h *History) Recent(n int) []FailureSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.samples) {
		n = len(h.samples)
	}

	result := make([]FailureSample, n)
	for i := 0; i < n; i++ {
		result[i] = h.samples[len(h.samples)-1-i]
	}
	return result
}

// Count returns the number of failures held
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples)
}
