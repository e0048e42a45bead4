package clientdata

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("sqlite", "file:clientdata_test?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db)
	require.NoError(t, repo.EnsureSchema())
	require.NoError(t, repo.PurgeAll())
	return repo
}

func TestStoreAndGetIfFresh(t *testing.T) {
	repo := newTestRepo(t)

	payload := map[string]string{"entityName": "Apple Inc."}
	require.NoError(t, repo.Store("edgar_facts", "0000320193", payload, time.Hour))

	raw, err := repo.GetIfFresh("edgar_facts", "0000320193")
	require.NoError(t, err)
	require.NotNil(t, raw)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "Apple Inc.", decoded["entityName"])
}

func TestGetIfFresh_MissingKey(t *testing.T) {
	repo := newTestRepo(t)

	raw, err := repo.GetIfFresh("edgar_facts", "0000000000")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestGetIfFresh_ExpiredReturnsNil(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Store("edgar_registry", "equities", "data", -time.Hour))

	raw, err := repo.GetIfFresh("edgar_registry", "equities")
	require.NoError(t, err)
	assert.Nil(t, raw)

	// Stale reads still return the payload.
	raw, err = repo.Get("edgar_registry", "equities")
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestStore_Upserts(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Store("price_history", "AAPL|2024-03-15", "first", time.Hour))
	require.NoError(t, repo.Store("price_history", "AAPL|2024-03-15", "second", time.Hour))

	raw, err := repo.GetIfFresh("price_history", "AAPL|2024-03-15")
	require.NoError(t, err)

	var value string
	require.NoError(t, json.Unmarshal(raw, &value))
	assert.Equal(t, "second", value)
}

func TestInvalidTableRejected(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.Store("users; DROP TABLE edgar_facts", "k", "v", time.Hour)
	assert.Error(t, err)

	_, err = repo.Get("nonexistent", "k")
	assert.Error(t, err)
}

func TestDeleteExpired(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Store("edgar_submissions", "0000320193", "fresh", time.Hour))
	require.NoError(t, repo.Store("edgar_submissions", "0000036405", "expired", -time.Hour))

	deleted, err := repo.DeleteExpired("edgar_submissions")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	raw, err := repo.GetIfFresh("edgar_submissions", "0000320193")
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestPurgeAll(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Store("edgar_facts", "0000320193", "v", time.Hour))
	require.NoError(t, repo.Store("price_history", "AAPL|2024-03-15", "v", time.Hour))

	require.NoError(t, repo.PurgeAll())

	for _, key := range []struct{ table, key string }{
		{"edgar_facts", "0000320193"},
		{"price_history", "AAPL|2024-03-15"},
	} {
		raw, err := repo.Get(key.table, key.key)
		require.NoError(t, err)
		assert.Nil(t, raw)
	}
}

func TestCleanupJob(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Store("edgar_facts", "0000320193", "expired", -time.Hour))

	job := NewCleanupJob(repo, zerolog.Nop())
	assert.Equal(t, "client_data_cleanup", job.Name())
	require.NoError(t, job.Run())

	raw, err := repo.Get("edgar_facts", "0000320193")
	require.NoError(t, err)
	assert.Nil(t, raw)
}
