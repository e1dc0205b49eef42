package pg

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	migrations "github.com/dropDatabas3/janus/migrations/postgres"
)

// Migrate applies the embedded SQL migrations in filename order. Statements
// are IF NOT EXISTS, so re-running is harmless.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("pg: migration %s: %w", name, err)
		}
	}
	return nil
}
