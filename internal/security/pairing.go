package security

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"deskpilot/internal/domain"
)

const (
	defaultPairingTTLDays = 30
	defaultCodeTTL        = 10 * time.Minute
	pairingCodeLength     = 6
)

// PairingConfig configures a PairingService.
type PairingConfig struct {
	TTLDays int                 // lifetime of a pairing; negative never expires
	CodeTTL time.Duration       // lifetime of an issued code
	Store   domain.PairingStore // nil keeps pairings in memory
	Logger  *slog.Logger
}

// PairingService admits channel users that are not on the allow list once
// they present a one-time code issued for them. Codes are shown to the
// operator on the host, never to the requesting user.
type PairingService struct {
	ttlDays int
	codeTTL time.Duration
	store   domain.PairingStore
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.Mutex
	pendingCodes map[string]pendingCode // "channel:userID" -> code
	memory       map[string]domain.PairedUser
}

type pendingCode struct {
	Code      string
	ExpiresAt time.Time
}

func NewPairingService(cfg PairingConfig) *PairingService {
	ttl := cfg.TTLDays
	if ttl == 0 {
		ttl = defaultPairingTTLDays
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = defaultCodeTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PairingService{
		ttlDays:      ttl,
		codeTTL:      cfg.CodeTTL,
		store:        cfg.Store,
		logger:       cfg.Logger,
		now:          time.Now,
		pendingCodes: make(map[string]pendingCode),
		memory:       make(map[string]domain.PairedUser),
	}
}

func pairingKey(channel, userID string) string {
	return channel + ":" + userID
}

// IsPaired reports whether the user holds an unexpired pairing.
func (ps *PairingService) IsPaired(ctx context.Context, channel, userID string) (bool, error) {
	if ps.store != nil {
		return ps.store.IsPaired(ctx, channel, userID, ps.now())
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	u, ok := ps.memory[pairingKey(channel, userID)]
	return ok && (u.ExpiresAt == nil || u.ExpiresAt.After(ps.now())), nil
}

// GenerateCode issues a numeric code for the user, replacing any earlier
// one. The code expires after the configured code TTL.
func (ps *PairingService) GenerateCode(channel, userID string) string {
	code := generateSecureCode(pairingCodeLength)

	ps.mu.Lock()
	ps.pendingCodes[pairingKey(channel, userID)] = pendingCode{
		Code:      code,
		ExpiresAt: ps.now().Add(ps.codeTTL),
	}
	ps.mu.Unlock()

	ps.logger.Info("pairing code generated", "channel", channel, "user_id", userID)
	return code
}

// PendingCode returns the user's outstanding code, if any.
func (ps *PairingService) PendingCode(channel, userID string) (string, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	pc, ok := ps.pendingCodes[pairingKey(channel, userID)]
	if !ok || ps.now().After(pc.ExpiresAt) {
		return "", false
	}
	return pc.Code, true
}

// VerifyCode pairs the user when code matches their outstanding code. A
// code is consumed by its first successful use.
func (ps *PairingService) VerifyCode(ctx context.Context, channel, userID, code string) (bool, error) {
	key := pairingKey(channel, userID)

	ps.mu.Lock()
	pending, exists := ps.pendingCodes[key]
	if exists && ps.now().After(pending.ExpiresAt) {
		delete(ps.pendingCodes, key)
		exists = false
	}
	if !exists || subtle.ConstantTimeCompare([]byte(pending.Code), []byte(code)) != 1 {
		ps.mu.Unlock()
		return false, nil
	}
	delete(ps.pendingCodes, key)
	ps.mu.Unlock()

	if err := ps.pairUser(ctx, channel, userID); err != nil {
		return false, err
	}
	ps.logger.Info("user paired", "channel", channel, "user_id", userID)
	return true, nil
}

// Unpair removes the user's pairing and reports whether one existed.
func (ps *PairingService) Unpair(ctx context.Context, channel, userID string) (bool, error) {
	if ps.store != nil {
		return ps.store.Unpair(ctx, channel, userID)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	key := pairingKey(channel, userID)
	_, ok := ps.memory[key]
	delete(ps.memory, key)
	return ok, nil
}

func (ps *PairingService) pairUser(ctx context.Context, channel, userID string) error {
	now := ps.now()
	u := domain.PairedUser{Channel: channel, UserID: userID, PairedAt: now}
	if ps.ttlDays > 0 {
		t := now.AddDate(0, 0, ps.ttlDays)
		u.ExpiresAt = &t
	}
	if ps.store != nil {
		if err := ps.store.PairUser(ctx, u); err != nil {
			return fmt.Errorf("store pairing: %w", err)
		}
		return nil
	}
	ps.mu.Lock()
	ps.memory[pairingKey(channel, userID)] = u
	ps.mu.Unlock()
	return nil
}

// CleanExpiredCodes drops codes past their expiry.
func (ps *PairingService) CleanExpiredCodes() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.now()
	for key, pc := range ps.pendingCodes {
		if now.After(pc.ExpiresAt) {
			delete(ps.pendingCodes, key)
		}
	}
}

// generateSecureCode returns a cryptographically random numeric code.
func generateSecureCode(length int) string {
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			panic(fmt.Sprintf("crypto/rand: %v", err))
		}
		code[i] = byte('0') + byte(n.Int64())
	}
	return string(code)
}
