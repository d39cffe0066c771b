package migrate

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// appMigrations returns the application's schema migrations for the given
// driver. The schema backs the stored-SQL catalog the web application
// serves: named queries addressed by a unique slug, executed against
// either the main or the log database.
func appMigrations(driver string) []Migration {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	boolType := "BOOLEAN"
	if driver == "mysql" {
		idColumn = "id BIGINT PRIMARY KEY AUTO_INCREMENT"
		boolType = "TINYINT(1)"
	}

	return []Migration{
		{
			Version:     "1.0.0",
			Name:        "create_sql_queries",
			Description: "Stored-SQL catalog: named queries addressed by slug",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(fmt.Sprintf(`
					CREATE TABLE IF NOT EXISTS sql_queries (
						%s,
						name VARCHAR(255) NOT NULL,
						path VARCHAR(255) NOT NULL UNIQUE,
						raw TEXT NOT NULL,
						created_at DATETIME NOT NULL
					)`, idColumn))
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec(`DROP TABLE IF EXISTS sql_queries`)
				return err
			},
		},
		{
			Version:     "1.1.0",
			Name:        "add_description_and_active_flag",
			Description: "Optional description plus soft enable/disable per query",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec(`ALTER TABLE sql_queries ADD COLUMN description TEXT`); err != nil {
					return err
				}
				_, err := tx.Exec(fmt.Sprintf(
					`ALTER TABLE sql_queries ADD COLUMN is_active %s NOT NULL DEFAULT 1`, boolType))
				return err
			},
			Down: func(tx *sql.Tx) error {
				if _, err := tx.Exec(`ALTER TABLE sql_queries DROP COLUMN is_active`); err != nil {
					return err
				}
				_, err := tx.Exec(`ALTER TABLE sql_queries DROP COLUMN description`)
				return err
			},
		},
		{
			Version:     "1.2.0",
			Name:        "add_target_database",
			Description: "Route each stored query to the main or log database",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec(
					`ALTER TABLE sql_queries ADD COLUMN target_database VARCHAR(16) NOT NULL DEFAULT 'main'`); err != nil {
					return err
				}
				_, err := tx.Exec(
					`CREATE INDEX idx_sql_queries_active ON sql_queries (is_active)`)
				return err
			},
			Down: func(tx *sql.Tx) error {
				if _, err := tx.Exec(`DROP INDEX idx_sql_queries_active`); err != nil {
					return err
				}
				_, err := tx.Exec(`ALTER TABLE sql_queries DROP COLUMN target_database`)
				return err
			},
		},
	}
}

// NewAppRunner creates a Runner with all application migrations registered.
func NewAppRunner(db *sql.DB, driver string, logger *zap.SugaredLogger) (*Runner, error) {
	runner, err := NewRunner(db, driver, logger)
	if err != nil {
		return nil, err
	}
	for _, m := range appMigrations(driver) {
		runner.Register(m)
	}
	return runner, nil
}
