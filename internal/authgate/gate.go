package authgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"powerguard-service/internal/bucketing"
	"powerguard-service/internal/config"
	"powerguard-service/internal/hashing"
	"powerguard-service/internal/models"
	"powerguard-service/internal/repository"
	"powerguard-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidFormat = errors.New("invalid credential format")
)

// Escalator receives the security event produced when failures cross the
// threshold. The orchestrator implements it; its errors are logged, never
// surfaced to the device user.
type Escalator interface {
	HandleEvent(ctx context.Context, event *models.SecurityEvent) error
}

// Gate is the credential-verification state machine. All mutation of a
// device's attempt state happens under that device's lock, so failure counts
// stay monotonic and escalation cannot double-fire.
type Gate struct {
	repo      repository.CredentialRepository
	hasher    *hashing.Hasher
	buckets   *bucketing.BucketingManager
	escalator Escalator

	threshold       uint
	lockoutDuration time.Duration

	deviceLocks sync.Map // deviceID -> *sync.Mutex
	nowFn       func() time.Time
}

func NewGate(cfg *config.Config, repo repository.CredentialRepository, hasher *hashing.Hasher, buckets *bucketing.BucketingManager, escalator Escalator) *Gate {
	return &Gate{
		repo:            repo,
		hasher:          hasher,
		buckets:         buckets,
		escalator:       escalator,
		threshold:       uint(cfg.Security.FailedThreshold),
		lockoutDuration: cfg.Security.LockoutDuration,
		nowFn:           time.Now,
	}
}

// WithClock overrides the gate's clock; tests use this to probe the lockout
// boundary.
func (g *Gate) WithClock(nowFn func() time.Time) *Gate {
	g.nowFn = nowFn
	return g
}

// Setup validates and stores a credential for the device. PINs are 4-6
// decimal digits; passwords need at least 8 characters.
func (g *Gate) Setup(ctx context.Context, deviceID, userID string, kind models.CredentialKind, raw string) error {
	if err := validateFormat(kind, raw); err != nil {
		return err
	}

	result, err := g.hasher.HashCredential(raw)
	if err != nil {
		return fmt.Errorf("failed to hash credential: %w", err)
	}

	now := g.nowFn().UTC()
	cred := &models.Credential{
		DeviceID:   deviceID,
		UserID:     userID,
		Kind:       kind,
		Salt:       result.Salt,
		Hash:       result.Hash,
		Iterations: result.Iterations,
		Algorithm:  result.Algorithm,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := g.repo.SaveCredential(ctx, cred); err != nil {
		util.Error("Failed to save credential",
			zap.String("device_id", deviceID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return fmt.Errorf("failed to save credential: %w", err)
	}

	util.Info("Credential configured",
		zap.String("device_id", deviceID),
		zap.String("kind", string(kind)))

	return nil
}

// Verify runs one credential check through the escalation state machine and
// returns a typed outcome. Calls for the same device are serialized.
func (g *Gate) Verify(ctx context.Context, deviceID string, kind models.CredentialKind, raw string) (VerifyOutcome, error) {
	lock := g.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	now := g.nowFn()

	state, err := g.repo.GetAttemptState(ctx, deviceID)
	if err != nil {
		return VerifyOutcome{}, fmt.Errorf("failed to load attempt state: %w", err)
	}

	// Strict comparison: a check arriving exactly at expiry is not locked.
	if state.LockoutUntil != nil && now.Before(*state.LockoutUntil) {
		remaining := int(state.LockoutUntil.Sub(now).Seconds())
		if remaining < 1 {
			remaining = 1
		}
		return VerifyOutcome{Kind: OutcomeLockedOut, FailedCount: state.FailedCount, RemainingSeconds: remaining}, nil
	}

	cred, err := g.repo.GetCredential(ctx, deviceID, kind)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return VerifyOutcome{Kind: OutcomeNotConfigured}, nil
		}
		return VerifyOutcome{}, fmt.Errorf("failed to load credential: %w", err)
	}

	match, err := g.hasher.VerifyCredential(raw, &hashing.HashResult{
		Hash:       cred.Hash,
		Salt:       cred.Salt,
		Iterations: cred.Iterations,
		Algorithm:  cred.Algorithm,
	})
	if err != nil {
		return VerifyOutcome{}, fmt.Errorf("failed to verify credential: %w", err)
	}

	if match {
		state.FailedCount = 0
		state.LastAttemptAt = &now
		state.LockoutUntil = nil
		if err := g.repo.SaveAttemptState(ctx, state); err != nil {
			return VerifyOutcome{}, fmt.Errorf("failed to reset attempt state: %w", err)
		}
		return VerifyOutcome{Kind: OutcomeSuccess}, nil
	}

	state.FailedCount++
	state.LastAttemptAt = &now

	if state.FailedCount > g.threshold {
		until := now.Add(g.lockoutDuration)
		state.LockoutUntil = &until
		if err := g.repo.SaveAttemptState(ctx, state); err != nil {
			return VerifyOutcome{}, fmt.Errorf("failed to save attempt state: %w", err)
		}

		g.escalate(ctx, cred, state)

		return VerifyOutcome{
			Kind:           OutcomeFailedWithAlert,
			FailedCount:    state.FailedCount,
			LockoutSeconds: int(g.lockoutDuration.Seconds()),
		}, nil
	}

	if err := g.repo.SaveAttemptState(ctx, state); err != nil {
		return VerifyOutcome{}, fmt.Errorf("failed to save attempt state: %w", err)
	}

	if state.FailedCount == g.threshold {
		return VerifyOutcome{Kind: OutcomeFailedAtThreshold, FailedCount: state.FailedCount}, nil
	}
	return VerifyOutcome{Kind: OutcomeFailed, FailedCount: state.FailedCount}, nil
}

func (g *Gate) escalate(ctx context.Context, cred *models.Credential, state *models.AttemptState) {
	now := g.nowFn()
	event := &models.SecurityEvent{
		EventID:     uuid.New().String(),
		EventBucket: g.buckets.GetEventBucket(cred.DeviceID),
		EventDate:   g.buckets.GetDateBucket(now),
		EventTime:   now.UTC(),
		EventType:   models.EventFailedAuthThreshold,
		DeviceID:    cred.DeviceID,
		UserID:      cred.UserID,
		Details:     fmt.Sprintf("failed_count=%d", state.FailedCount),
	}

	util.Warn("Credential failure threshold crossed",
		zap.String("device_id", cred.DeviceID),
		zap.Uint("failed_count", state.FailedCount),
		zap.String("event_id", event.EventID))

	if g.escalator == nil {
		return
	}
	if err := g.escalator.HandleEvent(ctx, event); err != nil {
		// Dispatch problems stay invisible to the device user.
		util.Error("Escalation handling failed",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}

func (g *Gate) lockFor(deviceID string) *sync.Mutex {
	lock, _ := g.deviceLocks.LoadOrStore(deviceID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func validateFormat(kind models.CredentialKind, raw string) error {
	switch kind {
	case models.CredentialPIN:
		if len(raw) < 4 || len(raw) > 6 || !util.IsDecimalDigits(raw) {
			return ErrInvalidFormat
		}
	case models.CredentialPassword:
		if len(raw) < 8 {
			return ErrInvalidFormat
		}
	default:
		return ErrInvalidFormat
	}
	return nil
}
