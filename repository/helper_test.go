package repository

import (
	"testing"
	"time"
)

func TestJitteredInterval(t *testing.T) {
	interval := 10 * time.Minute
	min := time.Duration(float64(interval) * (1 - jitterFactor))
	max := time.Duration(float64(interval) * (1 + jitterFactor))

	var spread bool
	first := jitteredInterval(interval)

	for range 1000 {
		got := jitteredInterval(interval)
		if got < min || got > max {
			t.Fatalf("jitteredInterval(%s) = %s, want within [%s, %s]", interval, got, min, max)
		}
		if got != first {
			spread = true
		}
	}

	if !spread {
		t.Error("jitteredInterval returned the same value 1000 times")
	}
}
