package utils

import (
	"testing"
	"time"
)

func TestSlidingWindowAdd(t *testing.T) {
	window := NewSlidingWindow(2 * time.Second)
	now := time.Now()
	if count := window.Add(now); count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
	if count := window.Add(now.Add(1 * time.Second)); count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if count := window.Add(now.Add(3 * time.Second)); count != 1 {
		t.Fatalf("expected count 1 after expiry, got %d", count)
	}
}

func TestWindowsSweepIdleKeys(t *testing.T) {
	windows := NewWindows(time.Minute, 2)
	now := time.Unix(1_700_000_000, 0)
	windows.Add("a", now)
	windows.Add("b", now)
	if count := windows.Add("a", now.Add(time.Second)); count != 2 {
		t.Fatalf("expected count 2 for a, got %d", count)
	}

	windows.Add("c", now.Add(2*time.Minute))
	if windows.Len() != 1 {
		t.Fatalf("expected idle keys to be swept, got %d keys", windows.Len())
	}
}
