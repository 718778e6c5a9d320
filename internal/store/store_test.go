package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-authgate/oauthcore/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

// TestStoreWithSQLite runs the store suite against an in-memory SQLite database.
func TestStoreWithSQLite(t *testing.T) {
	testStoreOperations(t, "sqlite", nil)
}

// TestStoreWithPostgres runs the store suite against a PostgreSQL container.
func TestStoreWithPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL integration test in short mode")
	}

	// Recover from panic if Docker is not available
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("Skipping PostgreSQL test: Docker not available (panic: %v)", r)
		}
	}()

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: Docker not available (%v)", err)
		return
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	testStoreOperations(t, "postgres", pgContainer)
}

// createFreshStore returns an isolated store: a new :memory: database for
// SQLite, a uniquely named database inside the container for PostgreSQL.
func createFreshStore(t *testing.T, driver string, pgContainer *postgres.PostgresContainer) *Store {
	t.Helper()

	var dsn string
	switch driver {
	case "sqlite":
		dsn = ":memory:"
	case "postgres":
		dbName := "test_" + uuid.New().String()[:8]
		ctx := context.Background()

		createDBCmd := fmt.Sprintf("CREATE DATABASE %s", dbName)
		_, _, err := pgContainer.Exec(
			ctx,
			[]string{"psql", "-U", "testuser", "-d", "testdb", "-c", createDBCmd},
		)
		require.NoError(t, err)

		host, err := pgContainer.Host(ctx)
		require.NoError(t, err)
		port, err := pgContainer.MappedPort(ctx, "5432")
		require.NoError(t, err)
		dsn = fmt.Sprintf(
			"host=%s port=%s user=testuser password=testpass dbname=%s sslmode=disable",
			host, port.Port(), dbName,
		)

		t.Cleanup(func() {
			dropDBCmd := fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", dbName)
			_, _, _ = pgContainer.Exec(
				context.Background(),
				[]string{"psql", "-U", "testuser", "-d", "testdb", "-c", dropDBCmd},
			)
		})
	default:
		t.Fatalf("unsupported driver: %s", driver)
	}

	store, err := New(context.Background(), driver, dsn)
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func newTestClient(clientID string) *models.OAuthClient {
	return &models.OAuthClient{
		ClientID:     clientID,
		Name:         "Test Client " + clientID,
		ClientType:   models.ClientTypeConfidential,
		RedirectURIs: models.StringArray{"https://app.example.com/callback"},
		Scopes:       models.StringArray{"read", "write"},
		IsActive:     true,
	}
}

func newTestCode(clientID string) *models.AuthorizationCode {
	id := uuid.NewString()
	return &models.AuthorizationCode{
		UUID:                id,
		CodeHash:            "hash-" + id,
		CodePrefix:          "oac_" + id[:8],
		ClientID:            clientID,
		UserID:              "user-1",
		RedirectURI:         "https://app.example.com/callback",
		Scopes:              "read",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: models.PKCEMethodS256,
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}
}

func newTestPair(clientID, familyID string) (*models.AccessToken, *models.RefreshToken) {
	accessID := uuid.NewString()
	refreshID := uuid.NewString()
	access := &models.AccessToken{
		ID:          accessID,
		TokenHash:   "hash-" + accessID,
		TokenPrefix: "oat_" + accessID[:8],
		ClientID:    clientID,
		UserID:      "user-1",
		Scopes:      "read",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	refresh := &models.RefreshToken{
		ID:        refreshID,
		TokenHash: "hash-" + refreshID,
		ClientID:  clientID,
		UserID:    "user-1",
		Scopes:    "read",
		FamilyID:  familyID,
		ExpiresAt: time.Now().Add(720 * time.Hour),
	}
	return access, refresh
}

func testStoreOperations(t *testing.T, driver string, pgContainer *postgres.PostgresContainer) {
	ctx := context.Background()

	t.Run("CreateAndGetClient", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		client := newTestClient("client-a")
		require.NoError(t, store.CreateClient(ctx, client))

		got, err := store.GetClient(ctx, "client-a")
		require.NoError(t, err)
		assert.Equal(t, client.Name, got.Name)
		assert.Equal(t, models.StringArray{"https://app.example.com/callback"}, got.RedirectURIs)
		assert.Equal(t, models.StringArray{"read", "write"}, got.Scopes)

		_, err = store.GetClient(ctx, "missing")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("ListClients", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		for i := range 3 {
			require.NoError(t, store.CreateClient(ctx, newTestClient(fmt.Sprintf("list-%d", i))))
		}
		require.NoError(t, store.CreateClient(ctx, newTestClient("other")))

		clients, page, err := store.ListClients(ctx, NewPaginationParams(1, 2, "list-"))
		require.NoError(t, err)
		assert.Len(t, clients, 2)
		assert.Equal(t, int64(3), page.Total)
		assert.Equal(t, 2, page.TotalPages)
		assert.True(t, page.HasNext)
	})

	t.Run("RedeemAuthorizationCodeOnce", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		code := newTestCode("client-a")
		require.NoError(t, store.CreateAuthorizationCode(ctx, code))

		got, err := store.GetAuthorizationCodeByHash(ctx, code.CodeHash)
		require.NoError(t, err)
		assert.False(t, got.IsUsed())

		access, refresh := newTestPair("client-a", uuid.NewString())
		require.NoError(t, store.RedeemAuthorizationCode(ctx, code.ID, access, refresh))
		assert.Equal(t, access.ID, refresh.AccessTokenID)

		got, err = store.GetAuthorizationCodeByHash(ctx, code.CodeHash)
		require.NoError(t, err)
		assert.True(t, got.IsUsed())

		access2, refresh2 := newTestPair("client-a", uuid.NewString())
		err = store.RedeemAuthorizationCode(ctx, code.ID, access2, refresh2)
		assert.ErrorIs(t, err, ErrAuthCodeAlreadyUsed)

		_, err = store.GetAccessTokenByHash(ctx, access2.TokenHash)
		assert.ErrorIs(t, err, ErrRecordNotFound, "losing redemption must not persist tokens")
	})

	t.Run("ConcurrentRedeemHasOneWinner", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		code := newTestCode("client-a")
		require.NoError(t, store.CreateAuthorizationCode(ctx, code))

		const workers = 10
		var wins, losses atomic.Int32
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				access, refresh := newTestPair("client-a", uuid.NewString())
				err := store.RedeemAuthorizationCode(ctx, code.ID, access, refresh)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrAuthCodeAlreadyUsed):
					losses.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(workers-1), losses.Load())

		count, err := store.CountActiveTokens(ctx, models.TokenTypeAccess)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("RotateRefreshToken", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		family := uuid.NewString()
		access, refresh := newTestPair("client-a", family)
		require.NoError(t, store.CreateTokenPair(ctx, access, refresh))

		newAccess, newRefresh := newTestPair("client-a", family)
		require.NoError(t, store.RotateRefreshToken(ctx, refresh, newAccess, newRefresh))

		old, err := store.GetRefreshTokenByHash(ctx, refresh.TokenHash)
		require.NoError(t, err)
		assert.True(t, old.IsRevoked())

		oldAccess, err := store.GetAccessTokenByID(ctx, access.ID)
		require.NoError(t, err)
		assert.True(t, oldAccess.IsRevoked(), "paired access token is revoked on rotation")

		current, err := store.GetRefreshTokenByHash(ctx, newRefresh.TokenHash)
		require.NoError(t, err)
		assert.True(t, current.IsActive())
		assert.Equal(t, family, current.FamilyID)

		again, againRefresh := newTestPair("client-a", family)
		err = store.RotateRefreshToken(ctx, refresh, again, againRefresh)
		assert.ErrorIs(t, err, ErrRefreshTokenAlreadyUsed)
	})

	t.Run("ConcurrentRotateHasOneWinner", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		family := uuid.NewString()
		access, refresh := newTestPair("client-a", family)
		require.NoError(t, store.CreateTokenPair(ctx, access, refresh))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a, r := newTestPair("client-a", family)
				if err := store.RotateRefreshToken(ctx, refresh, a, r); err == nil {
					wins.Add(1)
				} else if !errors.Is(err, ErrRefreshTokenAlreadyUsed) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("RevokeFamily", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		family := uuid.NewString()
		a1, r1 := newTestPair("client-a", family)
		require.NoError(t, store.CreateTokenPair(ctx, a1, r1))
		a2, r2 := newTestPair("client-a", family)
		require.NoError(t, store.RotateRefreshToken(ctx, r1, a2, r2))

		otherAccess, otherRefresh := newTestPair("client-a", uuid.NewString())
		require.NoError(t, store.CreateTokenPair(ctx, otherAccess, otherRefresh))

		result, err := store.RevokeFamily(ctx, family)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.AccessTokens, "a1 was already revoked by rotation")
		assert.Equal(t, int64(1), result.RefreshTokens)

		members, err := store.ListRefreshTokensByFamily(ctx, family)
		require.NoError(t, err)
		require.Len(t, members, 2)
		for _, m := range members {
			assert.True(t, m.IsRevoked())
		}

		live, err := store.GetAccessTokenByHash(ctx, otherAccess.TokenHash)
		require.NoError(t, err)
		assert.True(t, live.IsActive(), "other families are untouched")
	})

	t.Run("RevokeSingleTokens", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		access, refresh := newTestPair("client-a", uuid.NewString())
		require.NoError(t, store.CreateTokenPair(ctx, access, refresh))

		changed, err := store.RevokeRefreshToken(ctx, refresh.ID)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = store.RevokeRefreshToken(ctx, refresh.ID)
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := store.GetAccessTokenByID(ctx, access.ID)
		require.NoError(t, err)
		assert.True(t, got.IsActive(), "refresh revocation does not cascade")

		changed, err = store.RevokeAccessToken(ctx, access.ID)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("TouchAccessToken", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		access, refresh := newTestPair("client-a", uuid.NewString())
		require.NoError(t, store.CreateTokenPair(ctx, access, refresh))

		now := time.Now().Truncate(time.Second)
		require.NoError(t, store.TouchAccessToken(ctx, access.ID, now))

		got, err := store.GetAccessTokenByID(ctx, access.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastUsedAt)
		assert.WithinDuration(t, now, *got.LastUsedAt, time.Second)
	})

	t.Run("RevokeClientCascades", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		require.NoError(t, store.CreateClient(ctx, newTestClient("client-a")))
		access, refresh := newTestPair("client-a", uuid.NewString())
		require.NoError(t, store.CreateTokenPair(ctx, access, refresh))

		result, err := store.RevokeClient(ctx, "client-a", time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.AccessTokens)
		assert.Equal(t, int64(1), result.RefreshTokens)

		client, err := store.GetClient(ctx, "client-a")
		require.NoError(t, err)
		assert.False(t, client.IsUsable())

		_, err = store.RevokeClient(ctx, "missing", time.Now())
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("AuditLogs", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		now := time.Now()
		entries := []*models.AuditLog{
			{
				ID: uuid.NewString(), EventType: models.EventTokenRevoked, EventTime: now,
				Severity: models.SeverityInfo, Action: "revoke", Success: true, CreatedAt: now,
			},
			{
				ID: uuid.NewString(), EventType: models.EventTokenFamilyRevoked, EventTime: now,
				Severity: models.SeverityCritical, Action: "replay", Success: false, CreatedAt: now,
			},
			{
				ID: uuid.NewString(), EventType: models.EventTokenRevoked, EventTime: now.Add(-48 * time.Hour),
				Severity: models.SeverityInfo, Action: "old", Success: true, CreatedAt: now.Add(-48 * time.Hour),
			},
		}
		require.NoError(t, store.CreateAuditLogBatch(ctx, entries))

		logs, page, err := store.GetAuditLogsPaginated(
			ctx,
			NewPaginationParams(1, 10, ""),
			AuditLogFilters{EventType: models.EventTokenRevoked},
		)
		require.NoError(t, err)
		assert.Len(t, logs, 2)
		assert.Equal(t, int64(2), page.Total)

		stats, err := store.GetAuditLogStats(ctx, now.Add(-time.Hour), now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.TotalEvents)
		assert.Equal(t, int64(1), stats.SuccessCount)
		assert.Equal(t, int64(1), stats.FailureCount)
		assert.Equal(t, int64(1), stats.EventsBySeverity[models.SeverityCritical])

		deleted, err := store.DeleteOldAuditLogs(ctx, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
	})

	t.Run("Health", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		assert.NoError(t, store.Health(ctx))
		assert.Equal(t, driver, store.Driver())
	})
}

func TestDriverFactory(t *testing.T) {
	tests := []struct {
		name        string
		driver      string
		dsn         string
		expectError bool
	}{
		{
			name:        "SQLite valid",
			driver:      "sqlite",
			dsn:         ":memory:",
			expectError: false,
		},
		{
			name:        "Unsupported driver",
			driver:      "mysql",
			dsn:         "user:pass@tcp(localhost:3306)/dbname",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialector, err := GetDialector(tt.driver, tt.dsn)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, dialector)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, dialector)
			}
		})
	}
}

func TestRegisterDriver(t *testing.T) {
	customDriverCalled := false
	RegisterDriver("custom", func(dsn string) gorm.Dialector {
		customDriverCalled = true
		return nil
	})
	t.Cleanup(func() { delete(driverFactories, "custom") })

	dialector, err := GetDialector("custom", "test-dsn")
	assert.NoError(t, err)
	assert.True(t, customDriverCalled)
	assert.Nil(t, dialector)
}

func BenchmarkRedeemAuthorizationCode(b *testing.B) {
	ctx := context.Background()
	store, err := New(ctx, "sqlite", ":memory:")
	require.NoError(b, err)
	defer store.Close()

	for b.Loop() {
		code := newTestCode("bench")
		require.NoError(b, store.CreateAuthorizationCode(ctx, code))
		access, refresh := newTestPair("bench", uuid.NewString())
		require.NoError(b, store.RedeemAuthorizationCode(ctx, code.ID, access, refresh))
	}
}
