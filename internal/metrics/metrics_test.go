package metrics

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/cgmbridge/internal/errors"
	"codeberg.org/mutker/cgmbridge/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledUsesNoop(t *testing.T) {
	c, err := NewService(DefaultConfig(), logger.Default())
	require.NoError(t, err)

	assert.IsType(t, &noopCollector{}, c)
	assert.NoError(t, c.Record(context.Background(), &Delivery{}))
	recent, err := c.Recent(context.Background(), 5)
	assert.NoError(t, err)
	assert.Empty(t, recent)
	assert.NoError(t, c.Close())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.True(t, errors.HasCode(Config{Enabled: true}.Validate(), ErrInvalidDBPath))
	assert.Error(t, Config{BatchSize: -1}.Validate())
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		DBPath:       filepath.Join(t.TempDir(), "history.db"),
		Enabled:      true,
		BatchSize:    3,
		BatchTimeout: 3600,
	}

	c, err := NewService(cfg, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	base := time.UnixMilli(1700000000000)
	require.NoError(t, c.Record(ctx, &Delivery{
		Timestamp: base,
		Cycle:     "one",
		Kind:      "preferences",
		Bytes:     120,
	}))
	require.NoError(t, c.Record(ctx, &Delivery{
		Timestamp: base.Add(time.Second),
		Cycle:     "one",
		Kind:      "data",
		Bytes:     88,
		Data:      &DataFields{Recency: 30, LastSGV: 142, Trend: 4, Delta: -2, SGVCount: 37},
	}))
	require.NoError(t, c.Record(ctx, &Delivery{
		Timestamp: base.Add(2 * time.Second),
		Cycle:     "two",
		Kind:      "error",
		Bytes:     12,
		Failed:    true,
	}))

	recent, err := c.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	assert.Equal(t, "error", recent[0].Kind)
	assert.True(t, recent[0].Failed)
	assert.Nil(t, recent[0].Data)

	assert.Equal(t, "data", recent[1].Kind)
	assert.Equal(t, base.Add(time.Second), recent[1].Timestamp)
	require.NotNil(t, recent[1].Data)
	assert.Equal(t, DataFields{Recency: 30, LastSGV: 142, Trend: 4, Delta: -2, SGVCount: 37}, *recent[1].Data)
}

func TestRecentFlushesPartialBatch(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		DBPath:       filepath.Join(t.TempDir(), "history.db"),
		Enabled:      true,
		BatchSize:    50,
		BatchTimeout: 3600,
	}

	c, err := NewService(cfg, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Record(ctx, &Delivery{Timestamp: time.Now(), Cycle: "x", Kind: "data"}))

	recent, err := c.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestCloseFlushesBuffer(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	cfg := Config{DBPath: path, Enabled: true, BatchSize: 50}

	c, err := NewService(cfg, logger.Default())
	require.NoError(t, err)
	require.NoError(t, c.Record(ctx, &Delivery{Timestamp: time.Now(), Cycle: "x", Kind: "error", Failed: true}))
	require.NoError(t, c.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM deliveries").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSchemaMigrationBacksUpOldVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	backups := filepath.Join(dir, "old")
	repo, err := NewRepository(Config{DBPath: path, BatchSize: 1, BackupDir: backups}, logger.Default())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	matches, err := filepath.Glob(filepath.Join(backups, "history_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	db, err = sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestRecordNil(t *testing.T) {
	cfg := Config{DBPath: filepath.Join(t.TempDir(), "h.db"), Enabled: true, BatchSize: 1}
	c, err := NewService(cfg, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	err = c.Record(context.Background(), nil)
	assert.True(t, errors.HasCode(err, ErrInvalidRecord))
}
