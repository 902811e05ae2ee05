package db

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mkserv/keyserv/internal/keys"
	"github.com/mkserv/keyserv/internal/models"
	"github.com/mkserv/keyserv/internal/uid"
)

// dockerAvailable returns true if a Docker daemon is reachable.
func dockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB creates a PostgreSQL testcontainer, runs migrations, and
// returns a connected DB.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	if !dockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("keyserv_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := zerolog.New(zerolog.NewTestWriter(t))
	cfg := DefaultConfig(connStr)
	cfg.MaxConns = 10
	cfg.MinConns = 1

	database, err := New(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, database.Migrate(ctx))
	return database
}

func createTestApp(t *testing.T, database *DB, name string) *models.Application {
	t.Helper()
	app, err := models.NewApplication(name, "support note")
	require.NoError(t, err)
	entry := models.NewAppAuditLog(app, models.EventAppCreated, "registered")
	require.NoError(t, database.CreateApplication(context.Background(), app, entry))
	return app
}

func createTestKey(t *testing.T, database *DB, appID int64, token string, remaining int) *models.Key {
	t.Helper()
	key, err := models.NewKey(appID, token, remaining, "30", "", "")
	require.NoError(t, err)
	entry := models.NewKeyAuditLog(key, models.EventKeyCreated, "issued")
	require.NoError(t, database.CreateKey(context.Background(), key, entry))
	return key
}

func TestCreateApplicationStampsPublicID(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	app := createTestApp(t, database, "acme")
	require.NotZero(t, app.ID)
	require.Len(t, app.PublicID, 36)

	decoded, err := uid.ToID(app.PublicID)
	require.NoError(t, err)
	assert.Equal(t, app.ID, decoded)

	parsed, err := uid.Parse(app.PublicID)
	require.NoError(t, err)
	assert.True(t, uid.IsDerived(parsed))

	fetched, err := database.GetApplicationByID(ctx, app.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, app.PublicID, fetched.PublicID)
	assert.Equal(t, "acme", fetched.Name)

	byName, err := database.GetApplicationByName(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, app.ID, byName.ID)

	missing, err := database.GetApplicationByID(ctx, 99999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateApplicationDuplicateName(t *testing.T) {
	database := setupTestDB(t)

	createTestApp(t, database, "acme")
	app, err := models.NewApplication("acme", "")
	require.NoError(t, err)
	err = database.CreateApplication(context.Background(), app, nil)
	assert.ErrorIs(t, err, keys.ErrDuplicateName)
}

func TestCreateKeyTwoPhase(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	app := createTestApp(t, database, "acme")
	key := createTestKey(t, database, app.ID, "tok-1", 5)

	require.NotZero(t, key.ID)
	decoded, err := uid.ToID(key.PublicID)
	require.NoError(t, err)
	assert.Equal(t, key.ID, decoded)

	fetched, err := database.GetKeyByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, key.PublicID, fetched.PublicID)
	assert.Equal(t, 5, fetched.Remaining)
	assert.True(t, fetched.Enabled)

	// The issue was journaled in the same transaction.
	keyID := key.ID
	logs, err := database.ListAuditLogs(ctx, AuditLogFilter{KeyID: &keyID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.EventKeyCreated, logs[0].Event)
	assert.Len(t, logs[0].PublicID, 36)
}

func TestCreateKeyDuplicateToken(t *testing.T) {
	database := setupTestDB(t)

	app := createTestApp(t, database, "acme")
	createTestKey(t, database, app.ID, "tok-dup", 5)

	key, err := models.NewKey(app.ID, "tok-dup", 5, "30", "", "")
	require.NoError(t, err)
	err = database.CreateKey(context.Background(), key, nil)
	assert.ErrorIs(t, err, keys.ErrDuplicateToken)
}

func TestApplyActivationConditional(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	app := createTestApp(t, database, "acme")

	t.Run("binds hwid and decrements", func(t *testing.T) {
		key := createTestKey(t, database, app.ID, "tok-a", 2)
		entry := models.NewKeyAuditLog(key, models.EventAppActivation, "activated")

		applied, err := database.ApplyActivation(ctx, key.ID, "AA:BB", "10.0.0.1", now, entry)
		require.NoError(t, err)
		assert.True(t, applied)

		fresh, err := database.GetKeyByID(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, fresh.Remaining)
		assert.Equal(t, "AA:BB", fresh.HWID)
		assert.Equal(t, 1, fresh.TotalActivations)
		assert.Equal(t, "10.0.0.1", fresh.LastActivationIP)
	})

	t.Run("rejects foreign hwid without consuming budget", func(t *testing.T) {
		key := createTestKey(t, database, app.ID, "tok-b", 2)
		entry := models.NewKeyAuditLog(key, models.EventAppActivation, "activated")
		applied, err := database.ApplyActivation(ctx, key.ID, "AA:BB", "10.0.0.1", now, entry)
		require.NoError(t, err)
		require.True(t, applied)

		entry2 := models.NewKeyAuditLog(key, models.EventAppActivation, "activated")
		applied, err = database.ApplyActivation(ctx, key.ID, "CC:DD", "10.0.0.2", now, entry2)
		require.NoError(t, err)
		assert.False(t, applied)

		fresh, err := database.GetKeyByID(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, fresh.Remaining)
		assert.Equal(t, "AA:BB", fresh.HWID)
	})

	t.Run("unlimited budget never decrements", func(t *testing.T) {
		key := createTestKey(t, database, app.ID, "tok-c", models.UnlimitedActivations)
		for i := 0; i < 5; i++ {
			entry := models.NewKeyAuditLog(key, models.EventAppActivation, "activated")
			applied, err := database.ApplyActivation(ctx, key.ID, "AA:BB", "10.0.0.1", now, entry)
			require.NoError(t, err)
			require.True(t, applied)
		}
		fresh, err := database.GetKeyByID(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, models.UnlimitedActivations, fresh.Remaining)
		assert.Equal(t, 5, fresh.TotalActivations)
	})

	t.Run("disabled key never applies", func(t *testing.T) {
		key := createTestKey(t, database, app.ID, "tok-d", 2)
		toggle := models.NewKeyAuditLog(key, models.EventKeyModified, "disabled")
		require.NoError(t, database.SetKeyEnabled(ctx, key.ID, false, toggle))

		entry := models.NewKeyAuditLog(key, models.EventAppActivation, "activated")
		applied, err := database.ApplyActivation(ctx, key.ID, "AA:BB", "10.0.0.1", now, entry)
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestApplyActivationConcurrent(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	app := createTestApp(t, database, "acme")
	key := createTestKey(t, database, app.ID, "tok-race", 1)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry := models.NewKeyAuditLog(key, models.EventAppActivation, "activated")
			applied, err := database.ApplyActivation(ctx, key.ID, "AA:BB", "10.0.0.1", now, entry)
			if err != nil {
				t.Error(err)
				return
			}
			results <- applied
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for applied := range results {
		if applied {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent activation may apply")

	fresh, err := database.GetKeyByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Remaining)
	assert.Equal(t, 1, fresh.TotalActivations)
}

func TestRecordCheck(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	app := createTestApp(t, database, "acme")
	key := createTestKey(t, database, app.ID, "tok-check", 2)

	entry := models.NewKeyAuditLog(key, models.EventKeyAccess, "checked")
	require.NoError(t, database.RecordCheck(ctx, key.ID, "10.0.0.9", now, entry))

	fresh, err := database.GetKeyByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Remaining, "check must not consume budget")
	assert.Equal(t, 1, fresh.TotalChecks)
	assert.Equal(t, "10.0.0.9", fresh.LastCheckIP)
}

func TestAuditLogFilters(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	app := createTestApp(t, database, "acme")
	other := createTestApp(t, database, "globex")
	key := createTestKey(t, database, app.ID, "tok-logs", 2)

	sysEntry := models.NewSystemAuditLog(models.EventFailedActivation, "unknown token")
	require.NoError(t, database.AppendAuditLog(ctx, sysEntry))
	require.Nil(t, sysEntry.AppID)
	require.Len(t, sysEntry.PublicID, 36)

	appID := app.ID
	logs, err := database.ListAuditLogs(ctx, AuditLogFilter{AppID: &appID})
	require.NoError(t, err)
	assert.Len(t, logs, 2) // app registration + key issue

	event := models.EventKeyCreated
	logs, err = database.ListAuditLogs(ctx, AuditLogFilter{AppID: &appID, Event: &event})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].KeyID)
	assert.Equal(t, key.ID, *logs[0].KeyID)
	assert.Equal(t, "key_created", logs[0].EventName)

	otherID := other.ID
	count, err := database.CountAuditLogs(ctx, AuditLogFilter{AppID: &otherID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	total, err := database.CountAuditLogs(ctx, AuditLogFilter{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, int64(4))
}

func TestMigrateIsIdempotent(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.Migrate(ctx))

	version, err := database.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestUniqueViolationMappingUnknownConstraint(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, err, mapUniqueViolation(err))
}
