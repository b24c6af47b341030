package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}

	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) {
		t.Errorf("Clock time %v is before measurement time %v", now, before)
	}
	if now.After(after) {
		t.Errorf("Clock time %v is after measurement time %v", now, after)
	}
}

func TestMockClock_Now(t *testing.T) {
	fixedTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &MockClock{CurrentTime: fixedTime}

	if !clock.Now().Equal(fixedTime) {
		t.Errorf("expected %v, got %v", fixedTime, clock.Now())
	}

	// repeated calls stay fixed until advanced
	if !clock.Now().Equal(clock.Now()) {
		t.Error("mock clock should return a consistent time")
	}
}

func TestMockClock_Advance(t *testing.T) {
	fixedTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &MockClock{CurrentTime: fixedTime}

	clock.Advance(90 * time.Second)

	want := fixedTime.Add(90 * time.Second)
	if !clock.Now().Equal(want) {
		t.Errorf("expected %v after advance, got %v", want, clock.Now())
	}
}
