package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, name string) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableNames(t *testing.T, db *DB) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestBuildConnectionString(t *testing.T) {
	tests := []struct {
		profile  DatabaseProfile
		contains []string
	}{
		{ProfileLedger, []string{"synchronous(FULL)", "auto_vacuum(NONE)"}},
		{ProfileCache, []string{"synchronous(OFF)", "temp_store(MEMORY)"}},
		{ProfileStandard, []string{"synchronous(NORMAL)", "auto_vacuum(INCREMENTAL)"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.profile), func(t *testing.T) {
			connStr := buildConnectionString("/tmp/x.db", tt.profile)
			assert.True(t, strings.HasPrefix(connStr, "/tmp/x.db?_pragma=journal_mode(WAL)"))
			assert.Contains(t, connStr, "foreign_keys(1)")
			assert.Contains(t, connStr, "busy_timeout(5000)")
			for _, c := range tt.contains {
				assert.Contains(t, connStr, c)
			}
		})
	}

	connStr := buildConnectionString("file:mem?mode=memory", ProfileCache)
	assert.True(t, strings.HasPrefix(connStr, "file:mem?mode=memory&_pragma="))
}

func TestMigrate(t *testing.T) {
	t.Run("history", func(t *testing.T) {
		db := openTestDB(t, "history")
		require.NoError(t, db.Migrate())
		assert.Equal(t, []string{"assets", "features", "returns"}, tableNames(t, db))

		// Applying twice is a no-op
		require.NoError(t, db.Migrate())
	})

	t.Run("results", func(t *testing.T) {
		db := openTestDB(t, "results")
		require.NoError(t, db.Migrate())
		assert.Equal(t, []string{"backtests", "sweeps"}, tableNames(t, db))
	})

	t.Run("unknown name", func(t *testing.T) {
		db := openTestDB(t, "scratch")
		require.NoError(t, db.Migrate())
		assert.Empty(t, tableNames(t, db))
	})
}

func TestWithTransaction(t *testing.T) {
	db := openTestDB(t, "history")
	require.NoError(t, db.Migrate())

	count := func() int {
		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM assets").Scan(&n))
		return n
	}

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO assets (symbol, sector, liquidity_tier) VALUES ('AAA', 'tech', 1)")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count())

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO assets (symbol) VALUES ('BBB')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count())

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, _ = tx.Exec("INSERT INTO assets (symbol) VALUES ('CCC')")
		panic("unexpected")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
	assert.Equal(t, 1, count())

	assert.Error(t, WithTransaction(nil, func(*sql.Tx) error { return nil }))
}

func TestHealthAndMaintenance(t *testing.T) {
	db := openTestDB(t, "results")
	require.NoError(t, db.Migrate())

	ctx := context.Background()
	assert.NoError(t, db.HealthCheck(ctx))
	assert.NoError(t, db.QuickCheck(ctx))
	assert.NoError(t, db.WALCheckpoint(""))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Positive(t, stats.PageCount)
	assert.Positive(t, stats.PageSize)

	assert.Equal(t, "results", db.Name())
	assert.Equal(t, ProfileStandard, db.Profile())
	assert.True(t, filepath.IsAbs(db.Path()))
}

func TestBackupTo(t *testing.T) {
	db := openTestDB(t, "history")
	require.NoError(t, db.Migrate())
	_, err := db.Exec("INSERT INTO assets (symbol, sector, liquidity_tier) VALUES ('AAA', 'tech', 1)")
	require.NoError(t, err)

	ctx := context.Background()
	target := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, db.BackupTo(ctx, target))

	snapshot, err := New(Config{Path: target, Profile: ProfileStandard, Name: "snapshot"})
	require.NoError(t, err)
	defer snapshot.Close()

	var count int
	require.NoError(t, snapshot.QueryRow("SELECT COUNT(*) FROM assets").Scan(&count))
	assert.Equal(t, 1, count)

	assert.Error(t, db.BackupTo(ctx, target), "existing target")
}
