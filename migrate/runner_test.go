package migrate

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testRunner(t *testing.T) *Runner {
	t.Helper()
	runner, err := NewRunner(testDB(t), "sqlite", zap.NewNop().Sugar())
	require.NoError(t, err)
	return runner
}

func createTableMigration(version, table string) Migration {
	return Migration{
		Version: version,
		Name:    "create_" + table,
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(fmt.Sprintf(
				`CREATE TABLE %s (id INTEGER PRIMARY KEY AUTOINCREMENT)`, table))
			return err
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec(fmt.Sprintf(`DROP TABLE %s`, table))
			return err
		},
	}
}

func TestRunner_RunAppliesPendingInOrder(t *testing.T) {
	runner := testRunner(t)

	// Registered out of order; Run must apply in version order
	runner.Register(createTableMigration("1.2.0", "charlie"))
	runner.Register(createTableMigration("1.0.0", "alpha"))
	runner.Register(createTableMigration("1.1.0", "bravo"))

	require.NoError(t, runner.Run())

	applied, err := runner.Applied()
	require.NoError(t, err)
	require.Len(t, applied, 3)
	assert.Equal(t, "1.0.0", applied[0].Version)
	assert.Equal(t, "1.1.0", applied[1].Version)
	assert.Equal(t, "1.2.0", applied[2].Version)

	pending, err := runner.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunner_RunIsIdempotent(t *testing.T) {
	runner := testRunner(t)
	runner.Register(createTableMigration("1.0.0", "alpha"))

	require.NoError(t, runner.Run())
	// Second run has nothing pending and must not re-apply (the CREATE
	// TABLE without IF NOT EXISTS would fail if it did)
	require.NoError(t, runner.Run())

	applied, err := runner.Applied()
	require.NoError(t, err)
	assert.Len(t, applied, 1)
}

func TestRunner_RunWithNoMigrationsIsNoOp(t *testing.T) {
	runner := testRunner(t)
	require.NoError(t, runner.Run())
}

func TestRunner_FailedMigrationRecordsNothing(t *testing.T) {
	runner := testRunner(t)
	runner.Register(createTableMigration("1.0.0", "alpha"))
	runner.Register(Migration{
		Version: "1.1.0",
		Name:    "broken",
		Up: func(tx *sql.Tx) error {
			return fmt.Errorf("disk full")
		},
	})

	err := runner.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1.1.0")
	assert.Contains(t, err.Error(), "disk full")

	// The first migration applied, the broken one left no record
	applied, appliedErr := runner.Applied()
	require.NoError(t, appliedErr)
	require.Len(t, applied, 1)
	assert.Equal(t, "1.0.0", applied[0].Version)
}

func TestRunner_PanickingMigrationBecomesError(t *testing.T) {
	runner := testRunner(t)
	runner.Register(Migration{
		Version: "1.0.0",
		Name:    "panics",
		Up: func(tx *sql.Tx) error {
			panic("unexpected schema state")
		},
	})

	err := runner.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	applied, appliedErr := runner.Applied()
	require.NoError(t, appliedErr)
	assert.Empty(t, applied)
}

func TestRunner_ChecksumDriftBlocksRun(t *testing.T) {
	db := testDB(t)
	logger := zap.NewNop().Sugar()

	runner, err := NewRunner(db, "sqlite", logger)
	require.NoError(t, err)
	runner.Register(createTableMigration("1.0.0", "alpha"))
	require.NoError(t, runner.Run())

	// Same version, different name: the registered checksum no longer
	// matches the applied record
	drifted, err := NewRunner(db, "sqlite", logger)
	require.NoError(t, err)
	m := createTableMigration("1.0.0", "alpha_renamed")
	drifted.Register(m)

	issues, err := drifted.VerifyIntegrity()
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "checksum mismatch")

	err = drifted.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrity check failed")
}

func TestRunner_AppliedButUnregisteredIsAnIssue(t *testing.T) {
	db := testDB(t)
	logger := zap.NewNop().Sugar()

	runner, err := NewRunner(db, "sqlite", logger)
	require.NoError(t, err)
	runner.Register(createTableMigration("1.0.0", "alpha"))
	require.NoError(t, runner.Run())

	empty, err := NewRunner(db, "sqlite", logger)
	require.NoError(t, err)

	issues, err := empty.VerifyIntegrity()
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "no longer registered")
}

func TestRunner_Rollback(t *testing.T) {
	runner := testRunner(t)
	runner.Register(createTableMigration("1.0.0", "alpha"))
	require.NoError(t, runner.Run())

	require.NoError(t, runner.Rollback("1.0.0", "test rollback"))

	// Soft-deleted: no longer applied, pending again
	applied, err := runner.Applied()
	require.NoError(t, err)
	assert.Empty(t, applied)

	pending, err := runner.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "1.0.0", pending[0].Version)

	// Re-applying after rollback works because Down dropped the table
	require.NoError(t, runner.Run())
}

func TestRunner_RollbackErrors(t *testing.T) {
	runner := testRunner(t)
	runner.Register(createTableMigration("1.0.0", "alpha"))
	runner.Register(Migration{
		Version: "1.1.0",
		Name:    "no_down",
		Up: func(tx *sql.Tx) error {
			return nil
		},
	})
	require.NoError(t, runner.Run())

	t.Run("unknown version", func(t *testing.T) {
		err := runner.Rollback("9.9.9", "test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found in registry")
	})

	t.Run("no down function", func(t *testing.T) {
		err := runner.Rollback("1.1.0", "test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not support rollback")
	})

	t.Run("already rolled back", func(t *testing.T) {
		require.NoError(t, runner.Rollback("1.0.0", "test"))
		err := runner.Rollback("1.0.0", "test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already rolled back")
	})
}

func TestRunner_RegisterComputesChecksum(t *testing.T) {
	runner := testRunner(t)
	runner.Register(Migration{Version: "1.0.0", Name: "alpha", Up: func(tx *sql.Tx) error { return nil }})
	runner.Register(Migration{Version: "1.0.0", Name: "alpha", Up: func(tx *sql.Tx) error { return nil }})
	runner.Register(Migration{Version: "1.0.0", Name: "bravo", Up: func(tx *sql.Tx) error { return nil }})

	assert.NotEmpty(t, runner.migrations[0].Checksum)
	assert.Equal(t, runner.migrations[0].Checksum, runner.migrations[1].Checksum)
	assert.NotEqual(t, runner.migrations[0].Checksum, runner.migrations[2].Checksum)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.0.1", "1.0.0", 1},
		{"1.2.0", "1.10.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0", "1.0.0", 0},
		{"1.0.1", "1.0", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, compareVersions(tt.a, tt.b))
		})
	}
}
