// Package seedkey holds the security access state of a diagnostic session
// and derives keys from ECU seeds.
package seedkey

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"vehiclediag/utils"
)

const (
	// MaxAttempts failed keys in a row trigger a lockout
	MaxAttempts     = 3
	LockoutDuration = 10 * time.Second
)

// ErrLockedOut is returned while a lockout is active.
var ErrLockedOut = errors.New("security locked out - too many failed attempts")

// State is the challenge-response gate of one diagnostic session.
// Lockout expiry is evaluated against the clock on every call; nothing runs in the background.
type State struct {
	lock           sync.Mutex
	now            func() time.Time
	level          int
	lastSeed       string
	hasSeed        bool
	failedAttempts int
	lockedUntil    time.Time
}

// NewState returns an unauthenticated state. A nil clock means time.Now.
func NewState(now func() time.Time) *State {
	if now == nil {
		now = time.Now
	}
	return &State{now: now}
}

// expireLocked clears an elapsed lockout. Caller holds the lock.
func (s *State) expireLocked() {
	if !s.lockedUntil.IsZero() && !s.now().Before(s.lockedUntil) {
		s.lockedUntil = time.Time{}
		s.failedAttempts = 0
	}
}

// CalculateKey derives the key for seedHex with the algorithm of manufacturer's family.
func (s *State) CalculateKey(seedHex, manufacturer string, level int) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.expireLocked()
	if !s.lockedUntil.IsZero() {
		return "", fmt.Errorf("%w: retry in %s", ErrLockedOut, s.lockedUntil.Sub(s.now()).Round(time.Millisecond))
	}

	seed, err := utils.HexStringToBytes(seedHex)
	if err != nil {
		return "", fmt.Errorf("seed: %w", err)
	}
	if len(seed) == 0 {
		return "", fmt.Errorf("%w: empty seed", utils.ErrInvalidInput)
	}
	if level < 0 {
		return "", fmt.Errorf("%w: security level %d", utils.ErrInvalidInput, level)
	}

	s.lastSeed = seedHex
	s.hasSeed = true

	key := Key(FamilyFor(manufacturer), seed, level)
	return utils.BytesToHexString(key[:]), nil
}

// RecordAttempt updates the state after a key was sent. It must be called for
// every attempt, with success false when the exchange failed for any reason.
func (s *State) RecordAttempt(success bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.expireLocked()
	if success {
		s.failedAttempts = 0
		s.level++
		s.lockedUntil = time.Time{}
		return
	}

	s.failedAttempts++
	if s.failedAttempts >= MaxAttempts {
		s.lockedUntil = s.now().Add(LockoutDuration)
	}
}

// Reset returns to the initial unauthenticated state, clearing any lockout.
func (s *State) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.level = 0
	s.lastSeed = ""
	s.hasSeed = false
	s.failedAttempts = 0
	s.lockedUntil = time.Time{}
}

func (s *State) Level() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.level
}

// LastSeed returns the most recent seed, ok is false before the first one.
func (s *State) LastSeed() (seed string, ok bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastSeed, s.hasSeed
}

func (s *State) FailedAttempts() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.expireLocked()
	return s.failedAttempts
}

// LockedUntil returns the end of the active lockout, ok is false when there is none.
func (s *State) LockedUntil() (until time.Time, ok bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.expireLocked()
	return s.lockedUntil, !s.lockedUntil.IsZero()
}

func (s *State) LockedOut() bool {
	_, locked := s.LockedUntil()
	return locked
}
