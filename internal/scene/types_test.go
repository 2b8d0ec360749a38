package scene

import (
	"math"
	"testing"
	"time"
)

func TestMillis(t *testing.T) {
	tests := []struct {
		name string
		ms   int64
		want time.Duration
	}{
		{"zero", 0, 0},
		{"small", 1500, 1500 * time.Millisecond},
		{"limit", MaxMillis, time.Duration(MaxMillis) * time.Millisecond},
		{"past limit saturates", 10_000_000_000_000, time.Duration(MaxMillis) * time.Millisecond},
		{"max int64 saturates", math.MaxInt64, time.Duration(MaxMillis) * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Millis(tt.ms)
			if got != tt.want {
				t.Errorf("Millis(%d) = %v, want %v", tt.ms, got, tt.want)
			}
			if tt.ms > 0 && got <= 0 {
				t.Errorf("Millis(%d) wrapped to %v", tt.ms, got)
			}
		})
	}
}

func TestWaitFor_TimeoutNeverWraps(t *testing.T) {
	w := WaitFor{TimeoutMS: 10_000_000_000_000}
	if got := w.Timeout(); got <= 0 {
		t.Errorf("Timeout() = %v, want positive", got)
	}
}
