package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

// Functional Validation Tests - Config

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NotNil(t, config)

	assert.Equal(t, DriverSQLite, config.Driver)
	assert.Equal(t, "./data/polycast.db", config.DatabasePath)
	assert.Equal(t, 10, config.MaxConnections)
	assert.Equal(t, time.Hour, config.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, config.ConnMaxIdleTime)
	assert.Equal(t, 2*time.Hour, config.RecordTTL)
	assert.NoError(t, config.Validate())
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid sqlite", func(c *Config) {}, false},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }, true},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }, true},
		{"unknown driver", func(c *Config) { c.Driver = "postgres" }, true},
		{"redis without url", func(c *Config) { c.Driver = DriverRedis }, true},
		{"valid redis", func(c *Config) {
			c.Driver = DriverRedis
			c.RedisURL = "redis://localhost:6379/0"
		}, false},
		{"redis without ttl", func(c *Config) {
			c.Driver = DriverRedis
			c.RedisURL = "redis://localhost:6379/0"
			c.RecordTTL = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// Functional Validation Tests - Migration System

func TestMigrationManager_LoadEmbedded(t *testing.T) {
	mgr := NewMigrationManager(openTestDB(t))

	migrations, err := mgr.LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "initial_schema", migrations[0].Description)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS rooms")
}

func TestMigrationManager_ApplyMigrations_Ordered(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"m/002_add_column.sql": {Data: []byte(`ALTER TABLE test_table ADD COLUMN name TEXT;`)},
		"m/001_test.sql":       {Data: []byte(`CREATE TABLE test_table (id TEXT PRIMARY KEY);`)},
		"m/README.md":          {Data: []byte(`ignored`)},
	}

	mgr := NewMigrationManagerFS(db, source, "m")
	require.NoError(t, mgr.ApplyMigrations())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)

	_, err := db.Exec("INSERT INTO test_table (id, name) VALUES ('a', 'b')")
	assert.NoError(t, err, "002 should have run after 001")
}

func TestMigrationManager_ApplyMigrations_Idempotent(t *testing.T) {
	db := openTestDB(t)
	mgr := NewMigrationManager(db)

	require.NoError(t, mgr.ApplyMigrations())
	require.NoError(t, mgr.ApplyMigrations())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = '001'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrationManager_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"m/001_broken.sql": {Data: []byte(`CREATE TABLE oops (`)},
	}

	mgr := NewMigrationManagerFS(db, source, "m")
	require.Error(t, mgr.ApplyMigrations())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Zero(t, count)
}

// Technical Validation Tests - Schema Structure

func TestSchema_RoomsTable(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationManager(db).ApplyMigrations())

	_, err := db.Exec(`INSERT INTO rooms (room_code, created_at, transcript, student_count) VALUES (?, ?, ?, ?)`,
		"12345", time.Now().UTC(), `[{"text":"hello","timestamp":1}]`, 2)
	assert.NoError(t, err)

	_, err = db.Exec(`INSERT INTO rooms (room_code, created_at) VALUES (?, ?)`, "12345", time.Now().UTC())
	assert.Error(t, err, "duplicate room code must be rejected")

	_, err = db.Exec(`INSERT INTO rooms (room_code, created_at) VALUES (?, ?)`, "1234", time.Now().UTC())
	assert.Error(t, err, "four digit code must be rejected")
}
