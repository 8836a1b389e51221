package purge

import (
	"testing"
	"time"
)

const (
	kb = 1024
	mb = 1024 * kb
)

func TestScoreMonotonic(t *testing.T) {
	now := time.Now()
	ages := []time.Duration{0, time.Hour, day, 30 * day, 365 * day}
	sizes := []int64{1, kb, mb, 100 * mb}

	for i := 1; i < len(sizes); i++ {
		a := Score(Blob{Size: sizes[i-1], Timestamp: now.Add(-day)}, now)
		b := Score(Blob{Size: sizes[i], Timestamp: now.Add(-day)}, now)
		if b <= a {
			t.Errorf("score not increasing in size: %d -> %v, %d -> %v", sizes[i-1], a, sizes[i], b)
		}
	}
	for i := 2; i < len(ages); i++ {
		a := Score(Blob{Size: mb, Timestamp: now.Add(-ages[i-1])}, now)
		b := Score(Blob{Size: mb, Timestamp: now.Add(-ages[i])}, now)
		if b <= a {
			t.Errorf("score not increasing in age: %s -> %v, %s -> %v", ages[i-1], a, ages[i], b)
		}
	}

	if got := Score(Blob{Size: 100 * mb, Timestamp: now}, now); got != 0 {
		t.Errorf("expected zero score at age zero, got %v", got)
	}
	if got := Score(Blob{Size: mb, Timestamp: now.Add(time.Hour)}, now); got != 0 {
		t.Errorf("expected zero score for a future timestamp, got %v", got)
	}
}

func TestScoreCalibration(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		size int64
		age  time.Duration
		rung int
	}{
		{"3 year old 10MB", 10 * mb, 3 * 365 * day, 0},
		{"1 year old 3MB", 3 * mb, 365 * day, 1},
		{"100 day old 1MB", mb, 100 * day, 2},
		{"15 day old 700KB", 700 * kb, 15 * day, 3},
		{"6 day old 200KB", 200 * kb, 6 * day, 4},
		{"1 hour old 1KB", kb, time.Hour, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score := Score(Blob{Size: tc.size, Timestamp: now.Add(-tc.age)}, now)
			if got := Rung(score); got != tc.rung {
				t.Errorf("score %v: expected rung %d, got %d", score, tc.rung, got)
			}
		})
	}
}

func TestThresholdLadder(t *testing.T) {
	for i := 1; i < len(Thresholds); i++ {
		if Thresholds[i] >= Thresholds[i-1] {
			t.Errorf("ladder not strictly decreasing at %d: %v", i, Thresholds)
		}
	}
	if last := Thresholds[len(Thresholds)-1]; last != 0 {
		t.Errorf("expected ladder to end at 0, got %v", last)
	}
	if Rung(0.001) != len(Thresholds)-1 {
		t.Error("expected any positive score to pass the last threshold")
	}
	if Rung(0) != -1 {
		t.Error("expected a zero score to pass no threshold")
	}
}
