package model

import (
	"io"
	"sync/atomic"
	"time"
)

// Handle is an immutable loaded classifier plus its class labels.
// It is shared read-only by every request.
type Handle struct {
	Classifier Classifier
	Labels     []string
	Source     string
	LoadedAt   time.Time
}

// NewHandle wraps a classifier. Labels default to the classifier's
// own class count when none are given.
func NewHandle(c Classifier, labels []string, source string) *Handle {
	return &Handle{
		Classifier: c,
		Labels:     append([]string(nil), labels...),
		Source:     source,
		LoadedAt:   time.Now(),
	}
}

// Label returns the label for a class index, or "" if out of range
func (h *Handle) Label(index int) string {
	if index < 0 || index >= len(h.Labels) {
		return ""
	}
	return h.Labels[index]
}

// Close releases classifier resources when the backend holds any
func (h *Handle) Close() error {
	if c, ok := h.Classifier.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Holder publishes a Handle for lock-free reads and atomic replacement
type Holder struct {
	current atomic.Pointer[Handle]
	// retire delays closing a replaced handle so in-flight requests finish
	retire time.Duration
}

// NewHolder creates a holder; h may be nil for an optional model
func NewHolder(h *Handle, retire time.Duration) *Holder {
	holder := &Holder{retire: retire}
	if h != nil {
		holder.current.Store(h)
	}
	return holder
}

// Load returns the current handle or nil
func (hd *Holder) Load() *Handle {
	return hd.current.Load()
}

// Swap installs next and schedules the previous handle for closing
func (hd *Holder) Swap(next *Handle) {
	prev := hd.current.Swap(next)
	if prev == nil || prev == next {
		return
	}
	if hd.retire <= 0 {
		_ = prev.Close()
		return
	}
	time.AfterFunc(hd.retire, func() { _ = prev.Close() })
}
