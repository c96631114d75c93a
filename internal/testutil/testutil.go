// Package testutil provides shared test helpers for setting up databases,
// files directories and a wired back-office service.
package testutil

import (
	"log/slog"
	"os"
	"testing"

	"github.com/starford/estatedesk/internal/backoffice"
	"github.com/starford/estatedesk/internal/store"
	"github.com/starford/estatedesk/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "estatedesk-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestFiles creates a temporary files directory with a storage.Provider.
func TestFiles(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, files
}

// Logger returns a logger that only reports errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestService wires a back-office service over a temp DB and files dir.
func TestService(t *testing.T, opts ...backoffice.Option) (*backoffice.Service, string) {
	t.Helper()
	dir, files := TestFiles(t)
	opts = append([]backoffice.Option{backoffice.WithLogger(Logger())}, opts...)
	return backoffice.NewService(TestDB(t), files, opts...), dir
}
