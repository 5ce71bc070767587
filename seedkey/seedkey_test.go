package seedkey

import (
	"errors"
	"testing"
	"time"

	"vehiclediag/utils"
)

// fakeClock is advanced by hand so lockout expiry needs no sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newFakeClock() *fakeClock               { return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)} }

func TestCalculateKeyVectors(t *testing.T) {
	tests := []struct {
		seed         string
		manufacturer string
		level        int
		want         string
	}{
		{"1234", "vw", 1, "4B00"},
		{"1234", "vw", 3, "4900"},
		{"A1B2C3D4", "Volkswagen", 1, "0500"},
		{"0102030405", "skoda", 1, "FD00"},
		{"1234", "nissan", 1, "15A2"},
		{"1234", "Renault", 3, "17A2"},
		{"A1B2C3D4", "INFINITI", 1, "D056"},
		{"1234", "toyota", 1, "3412"},
		{"A1B2C3D4", "", 7, "B2A1"},
		{"0102030405", "ford", 1, "0204"},
	}
	for _, tt := range tests {
		t.Run(tt.manufacturer+"_"+tt.seed, func(t *testing.T) {
			s := NewState(nil)
			got, err := s.CalculateKey(tt.seed, tt.manufacturer, tt.level)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("key %s, want %s", got, tt.want)
			}
			if seed, ok := s.LastSeed(); !ok || seed != tt.seed {
				t.Errorf("last seed %q %v", seed, ok)
			}
		})
	}
}

func TestManufacturerDispatch(t *testing.T) {
	s := NewState(nil)
	seed := "5A3C96F0"

	audi, err := s.CalculateKey(seed, "Audi", 1)
	if err != nil {
		t.Fatal(err)
	}
	vw, err := s.CalculateKey(seed, "vw", 1)
	if err != nil {
		t.Fatal(err)
	}
	nissan, err := s.CalculateKey(seed, "nissan", 1)
	if err != nil {
		t.Fatal(err)
	}
	if audi != vw {
		t.Errorf("audi %s != vw %s", audi, vw)
	}
	if nissan == vw {
		t.Errorf("nissan and vw keys are both %s", vw)
	}
}

func TestFamilyFor(t *testing.T) {
	tests := map[string]Family{
		"VW Golf":      FamilyVW,
		"Audi A3":      FamilyVW,
		"Porsche":      FamilyVW,
		"SEAT Leon":    FamilyVW,
		"Nissan Leaf":  FamilyNissan,
		"renault clio": FamilyNissan,
		"Honda":        FamilyGeneric,
		"":             FamilyGeneric,
	}
	for name, want := range tests {
		if got := FamilyFor(name); got != want {
			t.Errorf("FamilyFor(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestCalculateKeyRejectsBadSeed(t *testing.T) {
	s := NewState(nil)
	if _, err := s.CalculateKey("123", "vw", 1); !errors.Is(err, utils.ErrMalformedHex) {
		t.Errorf("odd seed: %v", err)
	}
	if _, err := s.CalculateKey("12zz", "vw", 1); !errors.Is(err, utils.ErrMalformedHex) {
		t.Errorf("non hex seed: %v", err)
	}
	if _, err := s.CalculateKey("", "vw", 1); !errors.Is(err, utils.ErrInvalidInput) {
		t.Errorf("empty seed: %v", err)
	}
	if _, ok := s.LastSeed(); ok {
		t.Error("rejected seeds must not be recorded")
	}
}

func TestLockout(t *testing.T) {
	clock := newFakeClock()
	s := NewState(clock.now)

	for i := 0; i < MaxAttempts; i++ {
		if _, err := s.CalculateKey("1234", "vw", 1); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		s.RecordAttempt(false)
	}
	if !s.LockedOut() {
		t.Fatal("expected lockout after three failures")
	}
	if _, err := s.CalculateKey("1234", "vw", 1); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("expected ErrLockedOut, got %v", err)
	}

	clock.advance(LockoutDuration - time.Millisecond)
	if _, err := s.CalculateKey("1234", "vw", 1); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("lockout ended early: %v", err)
	}

	clock.advance(time.Millisecond)
	key, err := s.CalculateKey("1234", "vw", 1)
	if err != nil {
		t.Fatalf("lockout did not clear: %v", err)
	}
	if key != "4B00" {
		t.Errorf("key %s", key)
	}
	if s.FailedAttempts() != 0 {
		t.Errorf("failed attempts %d after lockout expired", s.FailedAttempts())
	}
}

func TestLockoutUntil(t *testing.T) {
	clock := newFakeClock()
	s := NewState(clock.now)
	start := clock.t

	s.RecordAttempt(false)
	s.RecordAttempt(false)
	if _, ok := s.LockedUntil(); ok {
		t.Fatal("locked after two failures")
	}
	if s.FailedAttempts() != 2 {
		t.Fatalf("failed attempts %d", s.FailedAttempts())
	}
	s.RecordAttempt(false)
	until, ok := s.LockedUntil()
	if !ok || !until.Equal(start.Add(LockoutDuration)) {
		t.Errorf("locked until %s %v", until, ok)
	}
}

func TestRecordAttemptSuccess(t *testing.T) {
	clock := newFakeClock()
	s := NewState(clock.now)

	s.RecordAttempt(false)
	s.RecordAttempt(false)
	s.RecordAttempt(true)
	if s.FailedAttempts() != 0 || s.Level() != 1 {
		t.Errorf("after success: attempts %d level %d", s.FailedAttempts(), s.Level())
	}

	// Two more failures are not enough to lock once the counter was reset
	s.RecordAttempt(false)
	s.RecordAttempt(false)
	if s.LockedOut() {
		t.Error("locked out after counter reset")
	}

	s.RecordAttempt(false)
	s.RecordAttempt(true)
	if s.LockedOut() {
		t.Error("success did not clear the lockout")
	}
	if s.Level() != 2 {
		t.Errorf("level %d, want 2", s.Level())
	}
}

func TestReset(t *testing.T) {
	clock := newFakeClock()
	s := NewState(clock.now)
	if _, err := s.CalculateKey("1234", "nissan", 1); err != nil {
		t.Fatal(err)
	}
	s.RecordAttempt(true)
	s.RecordAttempt(false)
	s.RecordAttempt(false)
	s.RecordAttempt(false)

	s.Reset()
	if s.Level() != 0 || s.FailedAttempts() != 0 || s.LockedOut() {
		t.Errorf("reset left level %d attempts %d locked %v", s.Level(), s.FailedAttempts(), s.LockedOut())
	}
	if _, ok := s.LastSeed(); ok {
		t.Error("reset kept the last seed")
	}
}
