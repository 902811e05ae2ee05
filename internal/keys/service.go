// Package keys implements the license key lifecycle: issuing keys,
// consuming activations against them, and answering validity checks.
// The service is the sole writer of key state; every state transition
// it performs is journaled to the audit trail, and a failed journal
// write fails the whole operation.
package keys

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkserv/keyserv/internal/models"
)

// Store is the persistence surface the service needs. Implementations
// must make ApplyActivation's read-validate-decrement-write atomic per
// key (conditional single-row update), run each mutation together with
// its audit entry in one transaction, and return the package's sentinel
// errors for unique-constraint collisions. Lookups return (nil, nil)
// when nothing matches.
type Store interface {
	CreateApplication(ctx context.Context, app *models.Application, entry *models.AuditLog) error
	GetApplicationByID(ctx context.Context, id int64) (*models.Application, error)

	CreateKey(ctx context.Context, key *models.Key, entry *models.AuditLog) error
	GetKeyByID(ctx context.Context, id int64) (*models.Key, error)
	GetKeyByToken(ctx context.Context, token string) (*models.Key, error)
	SetKeyEnabled(ctx context.Context, keyID int64, enabled bool, entry *models.AuditLog) error

	// ApplyActivation performs the conditional activation update and, when
	// it takes effect, inserts the audit entry in the same transaction.
	// It reports false with no error when the predicate did not hold at
	// write time (lost race, spent budget, rebound hardware).
	ApplyActivation(ctx context.Context, keyID int64, hwid, ip string, now time.Time, entry *models.AuditLog) (bool, error)
	RecordCheck(ctx context.Context, keyID int64, ip string, now time.Time, entry *models.AuditLog) error

	AppendAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// KeyCache caches key records by token for the check path. Lookups that
// miss return (nil, nil). Implementations may be arbitrarily stale
// within their TTL; the service invalidates on every mutation.
type KeyCache interface {
	Get(ctx context.Context, token string) (*models.Key, error)
	Set(ctx context.Context, token string, key *models.Key) error
	Invalidate(ctx context.Context, token string) error
}

// Recorder counts lifecycle outcomes for monitoring.
type Recorder interface {
	Activation(result string)
	Check(usable bool)
	KeyIssued()
}

// Service orchestrates key lifecycle operations against a Store.
type Service struct {
	store  Store
	cache  KeyCache
	stats  Recorder
	logger zerolog.Logger
}

// New creates a Service. cache and stats may be nil.
func New(store Store, cache KeyCache, stats Recorder, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		stats:  stats,
		logger: logger.With().Str("component", "keys").Logger(),
	}
}

// CreateApplication registers a new application and journals the
// registration.
func (s *Service) CreateApplication(ctx context.Context, name, supportMessage string) (*models.Application, error) {
	app, err := models.NewApplication(name, supportMessage)
	if err != nil {
		return nil, err
	}

	entry := models.NewAppAuditLog(app, models.EventAppCreated, fmt.Sprintf("application %q registered", app.Name))
	if err := s.store.CreateApplication(ctx, app, entry); err != nil {
		return nil, err
	}

	s.logger.Info().Str("app", app.PublicID).Str("name", app.Name).Msg("application registered")
	return app, nil
}

// CreateKeyParams describes a key to issue.
type CreateKeyParams struct {
	// Token is optional; a random one is generated when empty.
	Token string
	// Remaining is the activation budget; -1 means unlimited.
	Remaining int
	// ExpirySpec is either a bare day count or an absolute date string.
	ExpirySpec string
	HWID       string
	Memo       string
}

// CreateKey issues a new key for an application. The internal id is
// assigned on insert and the public identifier is derived from it and
// persisted in the same transaction, along with the KeyCreated journal
// entry.
func (s *Service) CreateKey(ctx context.Context, appID int64, p CreateKeyParams) (*models.Key, error) {
	app, err := s.store.GetApplicationByID(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("lookup application: %w", err)
	}
	if app == nil {
		return nil, ErrAppNotFound
	}

	token := p.Token
	if token == "" {
		if token, err = models.GenerateToken(); err != nil {
			return nil, err
		}
	}

	key, err := models.NewKey(app.ID, token, p.Remaining, p.ExpirySpec, p.HWID, p.Memo)
	if err != nil {
		return nil, err
	}

	entry := models.NewKeyAuditLog(key, models.EventKeyCreated,
		fmt.Sprintf("key issued for application %q, %s remaining, valid until %s",
			app.Name, budgetString(key.Remaining), key.ValidUntil.Format(time.RFC3339)))
	if err := s.store.CreateKey(ctx, key, entry); err != nil {
		return nil, err
	}

	if s.stats != nil {
		s.stats.KeyIssued()
	}
	s.logger.Info().Str("key", key.PublicID).Str("app", app.PublicID).Msg("key issued")
	return key, nil
}

// Activate consumes one activation against the key matching token.
// Every outcome, success or failure, produces exactly one audit entry;
// if that entry cannot be written the activation fails.
func (s *Service) Activate(ctx context.Context, token, hwid, ip string) (*models.Key, error) {
	now := time.Now().UTC()

	key, err := s.store.GetKeyByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("lookup key: %w", err)
	}
	if key == nil {
		entry := models.NewSystemAuditLog(models.EventFailedActivation,
			fmt.Sprintf("failed activation from %s: unknown token", ip))
		if aerr := s.store.AppendAuditLog(ctx, entry); aerr != nil {
			return nil, fmt.Errorf("append audit log: %w", aerr)
		}
		return nil, s.failActivation(token, ip, ErrNotFound)
	}

	if reason := s.rejectReason(key, hwid, now); reason != nil {
		if err := s.auditFailure(ctx, key, ip, reason); err != nil {
			return nil, err
		}
		return nil, s.failActivation(token, ip, reason)
	}

	entry := models.NewKeyAuditLog(key, models.EventAppActivation,
		fmt.Sprintf("successful activation from %s, hwid %q", ip, hwid))
	applied, err := s.store.ApplyActivation(ctx, key.ID, hwid, ip, now, entry)
	if err != nil {
		return nil, fmt.Errorf("apply activation: %w", err)
	}

	if !applied {
		// A concurrent activation won the conditional update. Re-read and
		// classify from the fresh state.
		fresh, err := s.store.GetKeyByToken(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("re-read key: %w", err)
		}
		reason := ErrExhausted
		if fresh != nil {
			if r := s.rejectReason(fresh, hwid, now); r != nil {
				reason = r
			}
			key = fresh
		}
		if err := s.auditFailure(ctx, key, ip, reason); err != nil {
			return nil, err
		}
		return nil, s.failActivation(token, ip, reason)
	}

	key.ApplyActivation(hwid, ip, now)
	s.invalidate(ctx, token)
	if s.stats != nil {
		s.stats.Activation("success")
	}
	s.logger.Info().Str("key", key.PublicID).Str("ip", ip).Msg("key activated")
	return key, nil
}

// CheckResult is the answer to a validity check.
type CheckResult struct {
	Usable bool
	Status models.KeyStatus
	Key    *models.Key
}

// Check answers whether the key matching token is currently usable.
// Checks never consume budget; an unusable key is a valid answer, not
// an error. Only an unknown token fails.
func (s *Service) Check(ctx context.Context, token, ip string) (*CheckResult, error) {
	now := time.Now().UTC()

	key, cached, err := s.lookupForCheck(ctx, token)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrNotFound
	}

	entry := models.NewKeyAuditLog(key, models.EventKeyAccess, fmt.Sprintf("key checked from %s", ip))
	if err := s.store.RecordCheck(ctx, key.ID, ip, now, entry); err != nil {
		return nil, fmt.Errorf("record check: %w", err)
	}
	key.ApplyCheck(ip, now)

	if !cached {
		s.cacheSet(ctx, token, key)
	}

	usable := key.Usable(now)
	if s.stats != nil {
		s.stats.Check(usable)
	}
	return &CheckResult{Usable: usable, Status: key.Status(now), Key: key}, nil
}

// SetKeyEnabled toggles the kill-switch on a key and journals the change.
func (s *Service) SetKeyEnabled(ctx context.Context, keyID int64, enabled bool) (*models.Key, error) {
	key, err := s.store.GetKeyByID(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("lookup key: %w", err)
	}
	if key == nil {
		return nil, ErrNotFound
	}

	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	entry := models.NewKeyAuditLog(key, models.EventKeyModified, fmt.Sprintf("key %s", verb))
	if err := s.store.SetKeyEnabled(ctx, key.ID, enabled, entry); err != nil {
		return nil, fmt.Errorf("set key enabled: %w", err)
	}

	key.Enabled = enabled
	s.invalidate(ctx, key.Token)
	s.logger.Info().Str("key", key.PublicID).Bool("enabled", enabled).Msg("key toggled")
	return key, nil
}

// rejectReason evaluates the activation ladder against a key snapshot.
// The order is fixed: disabled, expired, exhausted, hardware mismatch.
func (s *Service) rejectReason(key *models.Key, hwid string, now time.Time) error {
	switch {
	case !key.Enabled:
		return ErrDisabled
	case now.After(key.ValidUntil):
		return ErrExpired
	case key.Remaining == 0:
		return ErrExhausted
	case key.HWID != "" && key.HWID != hwid:
		return ErrHardwareMismatch
	default:
		return nil
	}
}

// auditFailure journals a failed activation against the key. The journal
// write is part of the operation: if it fails, the caller must fail too.
func (s *Service) auditFailure(ctx context.Context, key *models.Key, ip string, reason error) error {
	entry := models.NewKeyAuditLog(key, models.EventFailedActivation,
		fmt.Sprintf("failed activation from %s: %s", ip, reason))
	if err := s.store.AppendAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func (s *Service) failActivation(token, ip string, reason error) error {
	if s.stats != nil {
		s.stats.Activation(Code(reason))
	}
	s.logger.Warn().Str("ip", ip).Str("reason", Code(reason)).Msg("activation rejected")
	return reason
}

func (s *Service) lookupForCheck(ctx context.Context, token string) (*models.Key, bool, error) {
	if s.cache != nil {
		key, err := s.cache.Get(ctx, token)
		if err != nil {
			s.logger.Warn().Err(err).Msg("check cache read failed")
		} else if key != nil {
			return key, true, nil
		}
	}
	key, err := s.store.GetKeyByToken(ctx, token)
	if err != nil {
		return nil, false, fmt.Errorf("lookup key: %w", err)
	}
	return key, false, nil
}

func (s *Service) cacheSet(ctx context.Context, token string, key *models.Key) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, token, key); err != nil {
		s.logger.Warn().Err(err).Msg("check cache write failed")
	}
}

func (s *Service) invalidate(ctx context.Context, token string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, token); err != nil {
		s.logger.Warn().Err(err).Msg("check cache invalidation failed")
	}
}

func budgetString(remaining int) string {
	if remaining == models.UnlimitedActivations {
		return "unlimited activations"
	}
	return fmt.Sprintf("%d activations", remaining)
}
