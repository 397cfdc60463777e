package utils

import (
	"sync"
	"time"
)

// SlidingWindow counts hits younger than its window.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	hits   []time.Time
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window}
}

func (w *SlidingWindow) Add(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked(now)
	w.hits = append(w.hits, now)
	return len(w.hits)
}

func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked(now)
	return len(w.hits)
}

func (w *SlidingWindow) expireLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}

// Windows is a set of sliding windows sharing one duration, keyed by string.
// Idle windows are swept once the set grows past sweepAt keys.
type Windows struct {
	mu      sync.Mutex
	window  time.Duration
	sweepAt int
	byKey   map[string]*SlidingWindow
}

func NewWindows(window time.Duration, sweepAt int) *Windows {
	return &Windows{window: window, sweepAt: sweepAt, byKey: make(map[string]*SlidingWindow)}
}

// Add records a hit for key and returns the key's count inside the window.
func (w *Windows) Add(key string, now time.Time) int {
	w.mu.Lock()
	window := w.byKey[key]
	if window == nil {
		if len(w.byKey) >= w.sweepAt {
			w.sweepLocked(now)
		}
		window = NewSlidingWindow(w.window)
		w.byKey[key] = window
	}
	w.mu.Unlock()
	return window.Add(now)
}

func (w *Windows) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.byKey)
}

func (w *Windows) sweepLocked(now time.Time) {
	for key, window := range w.byKey {
		if window.Count(now) == 0 {
			delete(w.byKey, key)
		}
	}
}
