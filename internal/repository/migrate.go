package repository

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

// Migrate brings the schema up to date. PostgreSQL migrations run on their own
// connection opened from url; SQLite ones run on db itself so in-memory
// databases are migrated in place.
func Migrate(db *sql.DB, dialect Dialect, url string) error {
	src, err := iofs.New(migrations, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("while loading migrations: %w", err)
	}

	var m *migrate.Migrate
	switch dialect {
	case Postgres:
		m, err = migrate.NewWithSourceInstance("iofs", src, url)
		if err != nil {
			return fmt.Errorf("while preparing migrations: %w", err)
		}
		defer m.Close()
	case SQLite:
		driver, err := sqlite.WithInstance(db, &sqlite.Config{})
		if err != nil {
			return fmt.Errorf("while preparing migrations: %w", err)
		}
		// closing the migrator would close db
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", driver)
		if err != nil {
			return fmt.Errorf("while preparing migrations: %w", err)
		}
	default:
		return fmt.Errorf("no migrations for dialect %q", dialect)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Printf("migrate: schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("while applying migrations: %w", err)
	}
	version, _, _ := m.Version()
	log.Printf("migrate: schema at version %d", version)
	return nil
}
