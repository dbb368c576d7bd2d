package session

import (
	"sync"
	"time"
)

// HealthCheck is a repeating probe timer. At most one loop runs per
// instance; Begin always replaces any previous loop and Stop is safe to
// call when no loop is active.
type HealthCheck struct {
	mu     sync.Mutex
	cancel chan struct{}
}

// Begin arms the loop. Every interval the probe runs; on the first
// probe returning false the loop stops itself and runs onInvalid once.
func (h *HealthCheck) Begin(interval time.Duration, probe func() bool, onInvalid func()) {
	if interval <= 0 || probe == nil {
		return
	}

	h.mu.Lock()
	if h.cancel != nil {
		close(h.cancel)
	}
	cancel := make(chan struct{})
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-cancel:
				return
			case <-ticker.C:
				if probe() {
					continue
				}
				h.stopIfCurrent(cancel)
				if onInvalid != nil {
					onInvalid()
				}
				return
			}
		}
	}()
}

// Stop halts the loop. Idempotent.
func (h *HealthCheck) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		close(h.cancel)
		h.cancel = nil
	}
}

// stopIfCurrent clears the handle only when it still belongs to this
// loop, so a replacement loop armed meanwhile is left running.
func (h *HealthCheck) stopIfCurrent(cancel chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel == cancel {
		close(h.cancel)
		h.cancel = nil
	}
}
