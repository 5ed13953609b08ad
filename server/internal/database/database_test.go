package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyv/tokentrail/internal/pricing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func createTestUser(t *testing.T, db *DB, username string) *User {
	t.Helper()
	user := &User{
		ID:           "user-" + username,
		Username:     username,
		PasswordHash: "x",
		APIKey:       "tt_" + username,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, db.CreateUser(user))
	return user
}

func TestUserLookup(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "alice")

	byName, err := db.GetUserByUsername("alice")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, user.ID, byName.ID)

	byKey, err := db.GetUserByAPIKey("tt_alice")
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, user.ID, byKey.ID)

	missing, err := db.GetUserByUsername("nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetOrCreateClient(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "alice")

	created, err := db.GetOrCreateClient(user.ID, "client-1", "laptop")
	require.NoError(t, err)
	assert.Equal(t, "laptop", created.Name)
	assert.Nil(t, created.LastSyncAt)

	// Second call returns the same client
	again, err := db.GetOrCreateClient(user.ID, "client-1", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "laptop", again.Name)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, db.UpdateClientLastSync("client-1", now))

	last, err := db.GetClientSyncStatus(user.ID, "client-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.WithinDuration(t, now, *last, time.Second)
}

func TestInsertUsageEventsRepricesAndDedupes(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "alice")

	ts := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	events := []UsageEvent{
		{
			UserID: user.ID, ClientID: "c1", Sequence: 1, Timestamp: ts,
			FunctionName: "summarize", Model: "gpt-4o",
			InputTokens: 1000, OutputTokens: 200,
		},
		{
			UserID: user.ID, ClientID: "c1", Sequence: 2, Timestamp: ts.Add(time.Minute),
			FunctionName: "classify", Model: "gpt-4o-mini",
			InputTokens: 300, OutputTokens: 30,
		},
	}

	inserted, err := db.InsertUsageEvents(events)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	// Re-syncing the same batch inserts nothing
	inserted, err = db.InsertUsageEvents(events)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inserted)

	total, err := db.GetTotalUsage(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1300), total.InputTokens)
	assert.Equal(t, int64(2), total.Calls)

	// Cost comes from the shared pricing table, not the client
	wantCost := pricing.Calculate("gpt-4o", 1000, 200) + pricing.Calculate("gpt-4o-mini", 300, 30)
	assert.InDelta(t, wantCost, total.Cost, 1e-9)
}

func TestInsertUsageEventsKeepsSameSecondCalls(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "alice")

	// A burst of calls from the same function can share a timestamp.
	// The sequence number keeps them distinct; only an exact resend
	// is treated as a duplicate.
	ts := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	events := []UsageEvent{
		{
			UserID: user.ID, ClientID: "c1", Sequence: 1, Timestamp: ts,
			FunctionName: "summarize", Model: "gpt-4o",
			InputTokens: 1000, OutputTokens: 200,
		},
		{
			UserID: user.ID, ClientID: "c1", Sequence: 2, Timestamp: ts,
			FunctionName: "summarize", Model: "gpt-4o",
			InputTokens: 500, OutputTokens: 50,
		},
	}

	inserted, err := db.InsertUsageEvents(events)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	total, err := db.GetTotalUsage(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total.Calls)
	assert.Equal(t, int64(1500), total.InputTokens)

	inserted, err = db.InsertUsageEvents(events)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inserted)
}

func TestAggregations(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "alice")

	day1 := time.Date(2026, 8, 19, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	_, err := db.InsertUsageEvents([]UsageEvent{
		{UserID: user.ID, ClientID: "c1", Timestamp: day1, FunctionName: "summarize", Model: "gpt-4o", InputTokens: 1000, OutputTokens: 100},
		{UserID: user.ID, ClientID: "c1", Timestamp: day2, FunctionName: "summarize", Model: "gpt-4o", InputTokens: 2000, OutputTokens: 200},
		{UserID: user.ID, ClientID: "c1", Timestamp: day2, FunctionName: "classify", Model: "gpt-4o-mini", InputTokens: 100, OutputTokens: 10},
	})
	require.NoError(t, err)

	byDay, err := db.GetUsageByDay(user.ID)
	require.NoError(t, err)
	require.Len(t, byDay, 2)
	assert.Equal(t, "2026-08-20", byDay[0].Key) // newest first
	assert.Equal(t, int64(2), byDay[0].Calls)

	byFunction, err := db.GetUsageByFunction(user.ID)
	require.NoError(t, err)
	require.Len(t, byFunction, 2)
	assert.Equal(t, "summarize", byFunction[0].Key) // most expensive first

	byModel, err := db.GetUsageByModel(user.ID)
	require.NoError(t, err)
	require.Len(t, byModel, 2)
	assert.Equal(t, "gpt-4o", byModel[0].Key)

	recent, err := db.GetRecentEvents(user.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "2026-08-20", recent[0].Timestamp.UTC().Format("2006-01-02"))
}

func TestUsageIsScopedPerUser(t *testing.T) {
	db := openTestDB(t)
	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")

	_, err := db.InsertUsageEvents([]UsageEvent{
		{UserID: alice.ID, ClientID: "c1", Timestamp: time.Now(), FunctionName: "f", Model: "gpt-4o", InputTokens: 100, OutputTokens: 10},
	})
	require.NoError(t, err)

	total, err := db.GetTotalUsage(bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total.Calls)
}
