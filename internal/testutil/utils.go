package testutil

import (
	"path/filepath"
	"testing"

	"github.com/npezzotti/nests/internal/database"
	"github.com/rs/zerolog"
)

func TestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}

// NewTestRepository returns a migrated sqlite repository backed by a file
// in the test's temp dir.
func NewTestRepository(t *testing.T) *database.SqlNestsRepository {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "nests.db") +
		"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	if err := database.Migrate(database.DriverSQLite, dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo, err := database.NewNestsRepository(database.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})

	return repo
}
