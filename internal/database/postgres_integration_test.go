package database

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JasonSowers/twitch-pubsub/internal/crypto"
	"github.com/JasonSowers/twitch-pubsub/internal/domain"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to terminate postgres container: %v\n", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	testPool, err = Connect(ctx, connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to test database: %v\n", err)
		os.Exit(1)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestBroadcasterRepo(t *testing.T, pool *pgxpool.Pool) *BroadcasterRepo {
	t.Helper()
	enc, err := crypto.NewAESGCMEncryptor(testEncryptionKey)
	require.NoError(t, err)
	return NewBroadcasterRepo(pool, enc)
}

// setupTestDB skips in short mode and truncates tables after the test.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	t.Cleanup(func() {
		_, err := testPool.Exec(context.Background(), "TRUNCATE broadcasters, redemptions")
		require.NoError(t, err)
	})
	return testPool
}

func TestBroadcasterRepo_UpsertAndGet(t *testing.T) {
	pool := setupTestDB(t)
	repo := newTestBroadcasterRepo(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.Broadcaster{
		ChannelID:    "chan-1",
		RefreshToken: "refresh_1",
		RewardID:     "reward-1",
	}))

	b, err := repo.Get(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "chan-1", b.ChannelID)
	assert.Equal(t, "refresh_1", b.RefreshToken)
	assert.Equal(t, "reward-1", b.RewardID)
	assert.WithinDuration(t, time.Now(), b.CreatedAt, time.Minute)
}

func TestBroadcasterRepo_UpsertOverwrites(t *testing.T) {
	pool := setupTestDB(t)
	repo := newTestBroadcasterRepo(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.Broadcaster{ChannelID: "chan-1", RefreshToken: "r1"}))
	require.NoError(t, repo.Upsert(ctx, domain.Broadcaster{ChannelID: "chan-1", RefreshToken: "r2", RewardID: "reward-1"}))

	b, err := repo.Get(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "r2", b.RefreshToken)
	assert.Equal(t, "reward-1", b.RewardID)
}

func TestBroadcasterRepo_RefreshTokenOpaqueAtRest(t *testing.T) {
	pool := setupTestDB(t)
	repo := newTestBroadcasterRepo(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.Broadcaster{ChannelID: "chan-1", RefreshToken: "secret_refresh"}))

	var raw string
	require.NoError(t, pool.QueryRow(ctx, "SELECT refresh_token FROM broadcasters WHERE channel_id = 'chan-1'").Scan(&raw))
	assert.NotEqual(t, "secret_refresh", raw)
	assert.NotContains(t, raw, "secret_refresh")
}

func TestBroadcasterRepo_GetNotFound(t *testing.T) {
	pool := setupTestDB(t)
	repo := newTestBroadcasterRepo(t, pool)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrBroadcasterNotFound)
}

func TestBroadcasterRepo_UpdateRefreshToken(t *testing.T) {
	pool := setupTestDB(t)
	repo := newTestBroadcasterRepo(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.Broadcaster{ChannelID: "chan-1", RefreshToken: "old"}))
	require.NoError(t, repo.UpdateRefreshToken(ctx, "chan-1", "rotated"))

	b, err := repo.Get(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "rotated", b.RefreshToken)

	assert.ErrorIs(t, repo.UpdateRefreshToken(ctx, "missing", "x"), domain.ErrBroadcasterNotFound)
}

func TestBroadcasterRepo_Delete(t *testing.T) {
	pool := setupTestDB(t)
	repo := newTestBroadcasterRepo(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.Broadcaster{ChannelID: "chan-1", RefreshToken: "r"}))
	require.NoError(t, repo.Delete(ctx, "chan-1"))

	_, err := repo.Get(ctx, "chan-1")
	assert.ErrorIs(t, err, domain.ErrBroadcasterNotFound)

	// Deleting a missing row is not an error.
	assert.NoError(t, repo.Delete(ctx, "chan-1"))
}

func TestBroadcasterRepo_List(t *testing.T) {
	pool := setupTestDB(t)
	repo := newTestBroadcasterRepo(t, pool)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, repo.Upsert(ctx, domain.Broadcaster{
			ChannelID:    fmt.Sprintf("chan-%d", i),
			RefreshToken: "r",
		}))
	}

	broadcasters, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, broadcasters, 3)
}

func TestBroadcasterRepo_GetRewardBinding(t *testing.T) {
	pool := setupTestDB(t)
	repo := newTestBroadcasterRepo(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.Broadcaster{
		ChannelID:    "chan-1",
		RefreshToken: "r",
		RewardID:     "reward-1",
	}))

	rewardID, err := repo.GetRewardBinding(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "reward-1", rewardID)

	_, err = repo.GetRewardBinding(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrBroadcasterNotFound)
}

func TestRedemptionRepo_RecordIdempotent(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewRedemptionRepo(pool)
	ctx := context.Background()

	entry := domain.Redemption{
		ID:         "red-1",
		ChannelID:  "chan-1",
		RewardID:   "reward-1",
		Username:   "viewer",
		ReceivedAt: time.Now(),
	}
	require.NoError(t, repo.Record(ctx, entry))
	require.NoError(t, repo.Record(ctx, entry))

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM redemptions").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRedemptionRepo_DeleteByChannel(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewRedemptionRepo(pool)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, repo.Record(ctx, domain.Redemption{
			ID:         fmt.Sprintf("red-%d", i),
			ChannelID:  "chan-1",
			RewardID:   "reward-1",
			Username:   "viewer",
			ReceivedAt: time.Now(),
		}))
	}
	require.NoError(t, repo.Record(ctx, domain.Redemption{
		ID:         "red-other",
		ChannelID:  "chan-2",
		RewardID:   "reward-2",
		Username:   "viewer",
		ReceivedAt: time.Now(),
	}))

	purged, err := repo.DeleteByChannel(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM redemptions").Scan(&count))
	assert.Equal(t, 1, count)
}
