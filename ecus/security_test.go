package ecus

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"vehiclediag/seedkey"
	"vehiclediag/uds"
	"vehiclediag/utils"
)

func TestUnlock(t *testing.T) {
	tests := []struct {
		vehicle string
		key     string
	}{
		{"VW Golf", "4B00"},
		{"Nissan Leaf", "15A2"},
		{"Toyota", "3412"},
	}
	for _, tt := range tests {
		t.Run(tt.vehicle, func(t *testing.T) {
			ch := newFakeChannel(script(map[string][]string{
				"2701":          {"67011234"},
				"2702" + tt.key: {"6702"},
			}))
			cfg := testConfig()
			cfg.Vehicle = tt.vehicle
			c := New(ch, nil, nil, cfg, nil)

			if err := c.Unlock(context.Background(), 1); err != nil {
				t.Fatal(err)
			}
			if c.Codec().SecurityLevel() != 1 {
				t.Errorf("codec level %d", c.Codec().SecurityLevel())
			}
			if c.Security().Level() != 1 || c.Security().FailedAttempts() != 0 {
				t.Errorf("state level %d attempts %d", c.Security().Level(), c.Security().FailedAttempts())
			}
			if seed, _ := c.Security().LastSeed(); seed != "1234" {
				t.Errorf("last seed %s", seed)
			}
		})
	}
}

func TestUnlockZeroSeed(t *testing.T) {
	c, ch := newTestClient(script(map[string][]string{"2703": {"67030000"}}))

	if err := c.Unlock(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if c.Codec().SecurityLevel() != 2 {
		t.Errorf("codec level %d", c.Codec().SecurityLevel())
	}
	if sent := ch.sent(); len(sent) != 1 {
		t.Errorf("sent %v", sent)
	}
}

func TestUnlockLockout(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	ch := newFakeChannel(func(request string) []string {
		switch {
		case request == "2701":
			return []string{"67011234"}
		case strings.HasPrefix(request, "2702"):
			return []string{"7F2735"}
		}
		return nil
	})
	c := New(ch, nil, seedkey.NewState(clock), testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < seedkey.MaxAttempts; i++ {
		if err := c.Unlock(ctx, 1); !uds.IsNRC(err, uds.NRCInvalidKey) {
			t.Fatalf("attempt %d: expected invalid key, got %v", i, err)
		}
	}
	if !c.Security().LockedOut() {
		t.Fatal("not locked out after three invalid keys")
	}

	sent := len(ch.sent())
	if err := c.Unlock(ctx, 1); !errors.Is(err, seedkey.ErrLockedOut) {
		t.Fatalf("expected ErrLockedOut, got %v", err)
	}
	if len(ch.sent()) != sent {
		t.Error("locked out unlock talked to the ecu")
	}

	now = now.Add(seedkey.LockoutDuration)
	if err := c.Unlock(ctx, 1); !uds.IsNRC(err, uds.NRCInvalidKey) {
		t.Errorf("after lockout: %v", err)
	}
	if c.Security().FailedAttempts() != 1 {
		t.Errorf("failed attempts %d", c.Security().FailedAttempts())
	}
}

func TestUnlockKeyTimeoutCountsAsAttempt(t *testing.T) {
	c, _ := newTestClient(script(map[string][]string{"2701": {"67011234"}}))

	if err := c.Unlock(context.Background(), 1); !errors.Is(err, utils.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if c.Security().FailedAttempts() != 1 {
		t.Errorf("failed attempts %d", c.Security().FailedAttempts())
	}
	if c.Codec().SecurityLevel() != 0 {
		t.Error("security granted on timeout")
	}
}

func TestUnlockSeedFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  error
	}{
		{"negative", "7F2737", nil},
		{"wrong level", "67031234", ErrUnexpectedResponse},
		{"no seed", "6701", ErrUnexpectedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(script(map[string][]string{"2701": {tt.reply}}))
			err := c.Unlock(context.Background(), 1)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if c.Security().FailedAttempts() != 0 {
				t.Error("seed failure recorded as a key attempt")
			}
		})
	}
}

func TestUnlockInvalidLevel(t *testing.T) {
	c, ch := newTestClient(nil)
	if err := c.Unlock(context.Background(), 0); !errors.Is(err, utils.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if len(ch.sent()) != 0 {
		t.Error("invalid level reached the ecu")
	}
}
