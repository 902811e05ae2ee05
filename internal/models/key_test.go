package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func mustKey(t *testing.T, remaining int, expirySpec string) *Key {
	t.Helper()
	key, err := NewKey(1, "tok-test", remaining, expirySpec, "", "")
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	return key
}

func TestNewKeyDefaults(t *testing.T) {
	key := mustKey(t, 5, "30")

	if !key.Enabled {
		t.Error("new key should be enabled")
	}
	if key.HWID != "" {
		t.Errorf("new key HWID = %q, want empty", key.HWID)
	}
	if key.TotalActivations != 0 || key.TotalChecks != 0 {
		t.Errorf("new key counters = %d/%d, want 0/0", key.TotalActivations, key.TotalChecks)
	}

	wantUntil := time.Now().UTC().AddDate(0, 0, 30)
	if d := key.ValidUntil.Sub(wantUntil); d < -time.Minute || d > time.Minute {
		t.Errorf("ValidUntil = %s, want about %s", key.ValidUntil, wantUntil)
	}
}

func TestNewKeyBadRemaining(t *testing.T) {
	if _, err := NewKey(1, "tok", -2, "30", "", ""); !errors.Is(err, ErrBadRemaining) {
		t.Errorf("NewKey remaining=-2 error = %v, want ErrBadRemaining", err)
	}
}

func TestUsable(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		enabled   bool
		remaining int
		until     time.Time
		want      bool
	}{
		{"enabled with budget", true, 3, now.Add(time.Hour), true},
		{"unlimited budget", true, UnlimitedActivations, now.Add(time.Hour), true},
		{"exhausted", true, 0, now.Add(time.Hour), false},
		{"disabled", false, 3, now.Add(time.Hour), false},
		{"expired", true, 3, now.Add(-time.Second), false},
		{"at exact expiry instant", true, 3, now, true},
		{"disabled and exhausted", false, 0, now.Add(time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := &Key{Enabled: tt.enabled, Remaining: tt.remaining, ValidUntil: tt.until}
			if got := k.Usable(now); got != tt.want {
				t.Errorf("Usable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)

	tests := []struct {
		name string
		key  Key
		want KeyStatus
	}{
		{"active", Key{Enabled: true, Remaining: 1, ValidUntil: later}, KeyStatusActive},
		{"disabled wins", Key{Enabled: false, Remaining: 0, ValidUntil: later}, KeyStatusDisabled},
		{"expired", Key{Enabled: true, Remaining: 1, ValidUntil: now.Add(-time.Minute)}, KeyStatusExpired},
		{"exhausted", Key{Enabled: true, Remaining: 0, ValidUntil: later}, KeyStatusExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Status(now); got != tt.want {
				t.Errorf("Status() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestApplyActivation(t *testing.T) {
	now := time.Now().UTC()

	t.Run("binds hwid and decrements", func(t *testing.T) {
		key := mustKey(t, 2, "30")
		key.ApplyActivation("AA:BB", "10.0.0.1", now)

		if key.HWID != "AA:BB" {
			t.Errorf("HWID = %q, want AA:BB", key.HWID)
		}
		if key.Remaining != 1 {
			t.Errorf("Remaining = %d, want 1", key.Remaining)
		}
		if key.TotalActivations != 1 {
			t.Errorf("TotalActivations = %d, want 1", key.TotalActivations)
		}
		if key.LastActivationTS == nil || !key.LastActivationTS.Equal(now) {
			t.Errorf("LastActivationTS = %v, want %s", key.LastActivationTS, now)
		}
		if key.LastActivationIP != "10.0.0.1" {
			t.Errorf("LastActivationIP = %q", key.LastActivationIP)
		}
	})

	t.Run("keeps existing hwid", func(t *testing.T) {
		key := mustKey(t, 2, "30")
		key.HWID = "AA:BB"
		key.ApplyActivation("AA:BB", "10.0.0.1", now)
		if key.HWID != "AA:BB" {
			t.Errorf("HWID = %q, want AA:BB", key.HWID)
		}
	})

	t.Run("unlimited budget never decrements", func(t *testing.T) {
		key := mustKey(t, UnlimitedActivations, "30")
		for i := 0; i < 10; i++ {
			key.ApplyActivation("AA:BB", "10.0.0.1", now)
		}
		if key.Remaining != UnlimitedActivations {
			t.Errorf("Remaining = %d, want %d", key.Remaining, UnlimitedActivations)
		}
		if key.TotalActivations != 10 {
			t.Errorf("TotalActivations = %d, want 10", key.TotalActivations)
		}
	})
}

func TestApplyCheck(t *testing.T) {
	now := time.Now().UTC()
	key := mustKey(t, 2, "30")
	key.ApplyCheck("10.0.0.2", now)

	if key.Remaining != 2 {
		t.Errorf("check consumed budget: Remaining = %d, want 2", key.Remaining)
	}
	if key.TotalChecks != 1 {
		t.Errorf("TotalChecks = %d, want 1", key.TotalChecks)
	}
	if key.LastCheckIP != "10.0.0.2" {
		t.Errorf("LastCheckIP = %q", key.LastCheckIP)
	}
}

func TestParseExpiry(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

	t.Run("day count", func(t *testing.T) {
		got, err := ParseExpiry("30", now)
		if err != nil {
			t.Fatalf("ParseExpiry: %v", err)
		}
		if want := now.AddDate(0, 0, 30); !got.Equal(want) {
			t.Errorf("ParseExpiry(30) = %s, want %s", got, want)
		}
	})

	t.Run("zero days", func(t *testing.T) {
		got, err := ParseExpiry("0", now)
		if err != nil {
			t.Fatalf("ParseExpiry: %v", err)
		}
		if !got.Equal(now) {
			t.Errorf("ParseExpiry(0) = %s, want %s", got, now)
		}
	})

	t.Run("absolute dates", func(t *testing.T) {
		for _, spec := range []string{
			"2027-03-01T00:00:00Z",
			"2027-03-01 12:30:00",
			"2027-03-01",
		} {
			got, err := ParseExpiry(spec, now)
			if err != nil {
				t.Errorf("ParseExpiry(%q): %v", spec, err)
				continue
			}
			if got.Year() != 2027 || got.Month() != time.March {
				t.Errorf("ParseExpiry(%q) = %s", spec, got)
			}
		}
	})

	t.Run("rejects ambiguous input", func(t *testing.T) {
		for _, spec := range []string{"", "  ", "soon", "03/01/2027", "30d", "-5"} {
			if _, err := ParseExpiry(spec, now); !errors.Is(err, ErrBadExpiry) {
				t.Errorf("ParseExpiry(%q) error = %v, want ErrBadExpiry", spec, err)
			}
		}
	})
}

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		if len(tok) != 19 || strings.Count(tok, "-") != 3 {
			t.Fatalf("GenerateToken() = %q, want XXXX-XXXX-XXXX-XXXX", tok)
		}
		if seen[tok] {
			t.Fatalf("GenerateToken() repeated %q", tok)
		}
		seen[tok] = true
	}
}
