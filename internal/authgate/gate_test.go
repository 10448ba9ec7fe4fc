package authgate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"powerguard-service/internal/bucketing"
	"powerguard-service/internal/config"
	"powerguard-service/internal/hashing"
	"powerguard-service/internal/models"
	"powerguard-service/internal/repository/memory"
)

type captureEscalator struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (c *captureEscalator) HandleEvent(_ context.Context, event *models.SecurityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureEscalator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func testConfig() *config.Config {
	return &config.Config{
		Hashing: config.HashingConfig{
			Iterations: 100000,
			SaltLength: 32,
			KeyLength:  32,
		},
		Bucketing: config.BucketingConfig{
			EventBuckets:         64,
			SessionBucketSeconds: 300,
		},
		Security: config.SecurityConfig{
			FailedThreshold: 2,
			LockoutDuration: 30 * time.Second,
		},
	}
}

func newTestGate(t *testing.T, esc Escalator) (*Gate, *time.Time) {
	t.Helper()
	cfg := testConfig()

	hasher, err := hashing.NewHasher(cfg)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	gate := NewGate(cfg, memory.NewCredentialStore(), hasher, bucketing.NewBucketingManager(cfg), esc).
		WithClock(func() time.Time { return now })
	return gate, &now
}

func TestSetupValidatesFormat(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	ctx := context.Background()

	require.ErrorIs(t, gate.Setup(ctx, "dev-1", "user-1", models.CredentialPIN, "123"), ErrInvalidFormat)
	require.ErrorIs(t, gate.Setup(ctx, "dev-1", "user-1", models.CredentialPIN, "1234567"), ErrInvalidFormat)
	require.ErrorIs(t, gate.Setup(ctx, "dev-1", "user-1", models.CredentialPIN, "12a4"), ErrInvalidFormat)
	require.ErrorIs(t, gate.Setup(ctx, "dev-1", "user-1", models.CredentialPassword, "short"), ErrInvalidFormat)
	require.ErrorIs(t, gate.Setup(ctx, "dev-1", "user-1", "FACE", "whatever"), ErrInvalidFormat)

	require.NoError(t, gate.Setup(ctx, "dev-1", "user-1", models.CredentialPIN, "1234"))
	require.NoError(t, gate.Setup(ctx, "dev-1", "user-1", models.CredentialPIN, "123456"))
	require.NoError(t, gate.Setup(ctx, "dev-1", "user-1", models.CredentialPassword, "longenough"))
}

func TestVerifyNotConfigured(t *testing.T) {
	gate, _ := newTestGate(t, nil)

	outcome, err := gate.Verify(context.Background(), "dev-unknown", models.CredentialPIN, "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeNotConfigured, outcome.Kind)
}

func TestEscalationLadder(t *testing.T) {
	esc := &captureEscalator{}
	gate, now := newTestGate(t, esc)
	ctx := context.Background()

	require.NoError(t, gate.Setup(ctx, "dev-1", "user-1", models.CredentialPIN, "1234"))

	outcome, err := gate.Verify(ctx, "dev-1", models.CredentialPIN, "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome.Kind)

	// First failure
	outcome, err = gate.Verify(ctx, "dev-1", models.CredentialPIN, "0000")
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, outcome.Kind)
	require.Equal(t, uint(1), outcome.FailedCount)
	require.Zero(t, esc.count())

	// Second failure sits exactly at the threshold
	outcome, err = gate.Verify(ctx, "dev-1", models.CredentialPIN, "0000")
	require.NoError(t, err)
	require.Equal(t, OutcomeFailedAtThreshold, outcome.Kind)
	require.Equal(t, uint(2), outcome.FailedCount)
	require.Zero(t, esc.count())

	// Third failure escalates and locks out
	outcome, err = gate.Verify(ctx, "dev-1", models.CredentialPIN, "0000")
	require.NoError(t, err)
	require.Equal(t, OutcomeFailedWithAlert, outcome.Kind)
	require.Equal(t, uint(3), outcome.FailedCount)
	require.Equal(t, 30, outcome.LockoutSeconds)
	require.Equal(t, 1, esc.count())
	require.Equal(t, models.EventFailedAuthThreshold, esc.events[0].EventType)
	require.Equal(t, "dev-1", esc.events[0].DeviceID)
	require.Equal(t, "user-1", esc.events[0].UserID)

	// During the lockout even the correct credential is rejected
	outcome, err = gate.Verify(ctx, "dev-1", models.CredentialPIN, "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeLockedOut, outcome.Kind)
	require.LessOrEqual(t, outcome.RemainingSeconds, 30)
	require.GreaterOrEqual(t, outcome.RemainingSeconds, 1)
	require.Equal(t, 1, esc.count())

	// One millisecond before expiry the gate is still closed
	*now = now.Add(30*time.Second - time.Millisecond)
	outcome, err = gate.Verify(ctx, "dev-1", models.CredentialPIN, "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeLockedOut, outcome.Kind)
	require.Equal(t, 1, outcome.RemainingSeconds)

	// Exactly at expiry the attempt is processed; success resets everything
	*now = now.Add(time.Millisecond)
	outcome, err = gate.Verify(ctx, "dev-1", models.CredentialPIN, "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome.Kind)

	// Counter restarted from zero
	outcome, err = gate.Verify(ctx, "dev-1", models.CredentialPIN, "0000")
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, outcome.Kind)
	require.Equal(t, uint(1), outcome.FailedCount)
}

func TestEscalationRefiresAfterLockoutExpiry(t *testing.T) {
	esc := &captureEscalator{}
	gate, now := newTestGate(t, esc)
	ctx := context.Background()

	require.NoError(t, gate.Setup(ctx, "dev-1", "user-1", models.CredentialPIN, "1234"))

	for i := 0; i < 3; i++ {
		_, err := gate.Verify(ctx, "dev-1", models.CredentialPIN, "0000")
		require.NoError(t, err)
	}
	require.Equal(t, 1, esc.count())

	// After the lockout expires the count is still above threshold, so the
	// next failure escalates again.
	*now = now.Add(31 * time.Second)
	outcome, err := gate.Verify(ctx, "dev-1", models.CredentialPIN, "0000")
	require.NoError(t, err)
	require.Equal(t, OutcomeFailedWithAlert, outcome.Kind)
	require.Equal(t, uint(4), outcome.FailedCount)
	require.Equal(t, 2, esc.count())
}

func TestVerifyConcurrentFailuresStayMonotonic(t *testing.T) {
	esc := &captureEscalator{}
	gate, _ := newTestGate(t, esc)
	ctx := context.Background()

	require.NoError(t, gate.Setup(ctx, "dev-1", "user-1", models.CredentialPIN, "1234"))

	var wg sync.WaitGroup
	results := make([]VerifyOutcome, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = gate.Verify(ctx, "dev-1", models.CredentialPIN, "0000")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	// The lockout opens after the third failure; the rest bounce off it,
	// so exactly one escalation fires.
	require.Equal(t, 1, esc.count())

	var withAlert, locked int
	for _, outcome := range results {
		switch outcome.Kind {
		case OutcomeFailedWithAlert:
			withAlert++
		case OutcomeLockedOut:
			locked++
		}
	}
	require.Equal(t, 1, withAlert)
	require.Equal(t, 5, locked)
}

func TestCredentialKindsAreIndependent(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	ctx := context.Background()

	require.NoError(t, gate.Setup(ctx, "dev-1", "user-1", models.CredentialPIN, "1234"))
	require.NoError(t, gate.Setup(ctx, "dev-1", "user-1", models.CredentialPassword, "hunter2hunter2"))

	outcome, err := gate.Verify(ctx, "dev-1", models.CredentialPassword, "hunter2hunter2")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome.Kind)

	outcome, err = gate.Verify(ctx, "dev-1", models.CredentialPIN, "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome.Kind)
}
