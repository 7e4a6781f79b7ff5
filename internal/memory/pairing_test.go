package memory

import (
	"context"
	"testing"
	"time"

	"deskpilot/internal/domain"
)

func TestPairing_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	expires := now.Add(time.Hour)

	if err := s.PairUser(ctx, domain.PairedUser{Channel: "telegram", UserID: "42", PairedAt: now, ExpiresAt: &expires}); err != nil {
		t.Fatalf("PairUser: %v", err)
	}
	if err := s.PairUser(ctx, domain.PairedUser{Channel: "telegram", UserID: "7", PairedAt: now.Add(time.Second)}); err != nil {
		t.Fatalf("PairUser: %v", err)
	}

	tests := []struct {
		user string
		at   time.Time
		want bool
	}{
		{"42", now, true},
		{"42", now.Add(2 * time.Hour), false},
		{"7", now.Add(365 * 24 * time.Hour), true},
		{"99", now, false},
	}
	for _, tt := range tests {
		got, err := s.IsPaired(ctx, "telegram", tt.user, tt.at)
		if err != nil {
			t.Fatalf("IsPaired: %v", err)
		}
		if got != tt.want {
			t.Errorf("IsPaired(%s, %v) = %v, want %v", tt.user, tt.at, got, tt.want)
		}
	}

	users, err := s.PairedUsers(ctx)
	if err != nil {
		t.Fatalf("PairedUsers: %v", err)
	}
	if len(users) != 2 || users[0].UserID != "42" || users[1].UserID != "7" {
		t.Fatalf("users = %+v", users)
	}
	if users[0].ExpiresAt == nil || users[1].ExpiresAt != nil {
		t.Errorf("expiry not preserved: %+v", users)
	}
}

func TestPairing_Unpair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.PairUser(ctx, domain.PairedUser{Channel: "telegram", UserID: "42"})
	removed, err := s.Unpair(ctx, "telegram", "42")
	if err != nil || !removed {
		t.Fatalf("Unpair = %v, %v", removed, err)
	}
	removed, err = s.Unpair(ctx, "telegram", "42")
	if err != nil || removed {
		t.Fatalf("second Unpair = %v, %v", removed, err)
	}
	if paired, _ := s.IsPaired(ctx, "telegram", "42", time.Now()); paired {
		t.Error("user still paired")
	}
}
