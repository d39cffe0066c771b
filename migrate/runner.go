// Package migrate applies versioned schema migrations against the
// application database before the serving process starts.
package migrate

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"appboot/metrics"
)

// Migration represents a database migration with up and down operations
type Migration struct {
	Version     string              // Semantic version (e.g., "1.0.0")
	Name        string              // Descriptive name (e.g., "create_sql_queries")
	Description string              // Human-readable description
	Up          func(*sql.Tx) error // Apply migration
	Down        func(*sql.Tx) error // Rollback migration (optional)
	Checksum    string              // SHA256 of migration content for drift detection
	AppliedAt   time.Time           // When migration was applied (populated from DB)
}

// Record represents a row in the schema_migrations table
type Record struct {
	ID        int64
	Version   string
	Name      string
	Checksum  string
	AppliedAt time.Time
	Duration  int64 // milliseconds
}

// Runner manages database migrations
type Runner struct {
	db         *sql.DB
	driver     string
	logger     *zap.SugaredLogger
	migrations []Migration
}

// NewRunner creates a migration runner for the given driver ("sqlite" or
// "mysql") and ensures the schema_migrations table exists.
func NewRunner(db *sql.DB, driver string, logger *zap.SugaredLogger) (*Runner, error) {
	runner := &Runner{
		db:         db,
		driver:     driver,
		logger:     logger,
		migrations: make([]Migration, 0),
	}

	if err := runner.ensureMigrationsTable(); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	return runner, nil
}

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist
func (r *Runner) ensureMigrationsTable() error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if r.driver == "mysql" {
		idColumn = "id BIGINT PRIMARY KEY AUTO_INCREMENT"
	}
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		%s,
		version VARCHAR(64) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		checksum VARCHAR(64) NOT NULL,
		applied_at DATETIME NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		rolled_back_at DATETIME,
		rollback_reason TEXT
	)`, idColumn)
	_, err := r.db.Exec(schema)
	return err
}

// Register adds a migration to the runner
func (r *Runner) Register(m Migration) {
	// Calculate checksum if not provided
	if m.Checksum == "" {
		m.Checksum = r.calculateChecksum(m)
	}
	r.migrations = append(r.migrations, m)
}

// calculateChecksum generates a SHA256 hash for migration drift detection
func (r *Runner) calculateChecksum(m Migration) string {
	// Use version + name as checksum input (Up/Down functions can't be hashed)
	content := fmt.Sprintf("%s:%s", m.Version, m.Name)
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:8]) // Use first 8 bytes for brevity
}

// Applied returns all migrations that have been applied and not rolled back
func (r *Runner) Applied() ([]Record, error) {
	rows, err := r.db.Query(`
		SELECT id, version, name, checksum, applied_at, duration_ms
		FROM schema_migrations
		WHERE rolled_back_at IS NULL
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Version, &rec.Name, &rec.Checksum, &rec.AppliedAt, &rec.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Pending returns migrations that haven't been applied yet, in version order
func (r *Runner) Pending() ([]Migration, error) {
	applied, err := r.Applied()
	if err != nil {
		return nil, err
	}

	appliedSet := make(map[string]bool)
	for _, rec := range applied {
		appliedSet[rec.Version] = true
	}

	var pending []Migration
	for _, m := range r.migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return compareVersions(pending[i].Version, pending[j].Version) < 0
	})

	return pending, nil
}

// Run applies all pending migrations. It verifies integrity first so a
// drifted migration set never half-applies. Running with nothing pending is
// a no-op success.
func (r *Runner) Run() error {
	if issues, err := r.VerifyIntegrity(); err != nil {
		return err
	} else if len(issues) > 0 {
		return fmt.Errorf("migration integrity check failed: %s", strings.Join(issues, "; "))
	}

	pending, err := r.Pending()
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		r.logger.Debug("No pending migrations")
		return nil
	}

	r.logger.Infof("Running %d pending migrations", len(pending))

	for _, m := range pending {
		if err := r.runMigration(m); err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", m.Version, m.Name, err)
		}
	}

	r.logger.Info("All migrations completed successfully")
	return nil
}

// runMigration applies a single migration within a transaction. A panic
// inside the migration is captured as an error via the named return.
func (r *Runner) runMigration(m Migration) (err error) {
	r.logger.Infof("Running migration %s: %s", m.Version, m.Name)
	start := time.Now()

	var tx *sql.Tx
	tx, err = r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			if panicAsErr, ok := p.(error); ok {
				err = fmt.Errorf("migration panicked: %w", panicAsErr)
			} else {
				err = fmt.Errorf("migration panicked: %v", p)
			}
		}
	}()

	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration Up() failed: %w", err)
	}

	duration := time.Since(start).Milliseconds()
	_, err = tx.Exec(`
		INSERT INTO schema_migrations (version, name, checksum, applied_at, duration_ms)
		VALUES (?, ?, ?, ?, ?)
	`, m.Version, m.Name, m.Checksum, time.Now().UTC(), duration)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	metrics.MigrationsApplied.Inc()
	r.logger.Infof("Migration %s completed in %dms", m.Version, duration)
	return nil
}

// Rollback rolls back a specific applied migration by version.
func (r *Runner) Rollback(version string, reason string) (err error) {
	var migration *Migration
	for i := range r.migrations {
		if r.migrations[i].Version == version {
			migration = &r.migrations[i]
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration %s not found in registry", version)
	}

	if migration.Down == nil {
		return fmt.Errorf("migration %s does not support rollback (no Down function)", version)
	}

	// Verify migration was applied
	var appliedAt sql.NullTime
	err = r.db.QueryRow(`
		SELECT applied_at FROM schema_migrations
		WHERE version = ? AND rolled_back_at IS NULL
	`, version).Scan(&appliedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("migration %s has not been applied or was already rolled back", version)
	}
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	r.logger.Infof("Rolling back migration %s: %s (reason: %s)", version, migration.Name, reason)

	var tx *sql.Tx
	tx, err = r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			if panicAsErr, ok := p.(error); ok {
				err = fmt.Errorf("rollback panicked: %w", panicAsErr)
			} else {
				err = fmt.Errorf("rollback panicked: %v", p)
			}
		}
	}()

	if err := migration.Down(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("rollback Down() failed: %w", err)
	}

	// Mark as rolled back (soft delete)
	_, err = tx.Exec(`
		UPDATE schema_migrations
		SET rolled_back_at = ?, rollback_reason = ?
		WHERE version = ?
	`, time.Now().UTC(), reason, version)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to mark migration as rolled back: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}

	r.logger.Infof("Migration %s rolled back successfully", version)
	return nil
}

// VerifyIntegrity checks for migration drift (modified applied migrations)
func (r *Runner) VerifyIntegrity() ([]string, error) {
	applied, err := r.Applied()
	if err != nil {
		return nil, err
	}

	registered := make(map[string]Migration)
	for _, m := range r.migrations {
		registered[m.Version] = m
	}

	var issues []string
	for _, rec := range applied {
		if m, ok := registered[rec.Version]; ok {
			if m.Checksum != rec.Checksum {
				issues = append(issues, fmt.Sprintf(
					"migration %s checksum mismatch: applied=%s, registered=%s (possible code drift)",
					rec.Version, rec.Checksum, m.Checksum))
			}
		} else {
			issues = append(issues, fmt.Sprintf(
				"migration %s is applied but no longer registered", rec.Version))
		}
	}

	return issues, nil
}

// compareVersions compares two dotted numeric versions.
// Returns -1, 0 or 1.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var ai, bi int
		if i < len(as) {
			ai, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bi, _ = strconv.Atoi(bs[i])
		}
		if ai < bi {
			return -1
		}
		if ai > bi {
			return 1
		}
	}
	return 0
}
