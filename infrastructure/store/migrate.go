package store

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // registers postgres://
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rotisserie/eris"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MigrateDirection selects what Migrate does.
type MigrateDirection string

// Supported migration directions.
const (
	MigrateUp   MigrateDirection = "up"
	MigrateDown MigrateDirection = "down"
)

// Migrate applies the embedded Postgres migrations in direction against
// dsn. An up-to-date schema is not an error.
func Migrate(dsn string, direction MigrateDirection) error {
	if direction != MigrateUp && direction != MigrateDown {
		return eris.Errorf("migrate: unknown direction %q", direction)
	}
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck

	switch direction {
	case MigrateUp:
		err = m.Up()
	case MigrateDown:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return eris.Wrapf(err, "migrate: %s", direction)
	}
	return nil
}

// MigrationVersion reports the applied schema version.
func MigrationVersion(dsn string) (version uint, dirty bool, err error) {
	m, err := newMigrator(dsn)
	if err != nil {
		return 0, false, err
	}
	defer m.Close() //nolint:errcheck

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, eris.Wrap(err, "migrate: version")
}

func newMigrator(dsn string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "migrate: create source")
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "migrate: create migrator")
	}
	return m, nil
}
