package backup

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func createDatabase(t *testing.T, path string, rows int) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 0; i < rows; i++ {
		if _, err := db.Exec(`INSERT INTO notes (body) VALUES (?)`, "note"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func countNotes(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.db")
	createDatabase(t, good, 1)
	if err := Verify(context.Background(), good); err != nil {
		t.Errorf("Verify(valid db) = %v", err)
	}

	bad := filepath.Join(dir, "bad.db")
	if err := os.WriteFile(bad, []byte("definitely not a database file, just some bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Verify(context.Background(), bad); err == nil {
		t.Error("Verify(garbage) should fail")
	}
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "snap.db")
	target := filepath.Join(dir, "index.db")
	createDatabase(t, snap, 3)
	createDatabase(t, target, 1)

	stale := target + "-shm"
	if err := os.WriteFile(stale, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Restore(context.Background(), snap, target); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale %s should be removed, stat err = %v", stale, err)
	}
	if got := countNotes(t, target); got != 3 {
		t.Errorf("restored rows = %d, want 3", got)
	}
}

func TestRestoreRejectsCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "snap.db")
	target := filepath.Join(dir, "index.db")
	if err := os.WriteFile(snap, []byte("garbage garbage garbage garbage garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	createDatabase(t, target, 2)

	if err := Restore(context.Background(), snap, target); err == nil {
		t.Fatal("Restore should reject a corrupt snapshot")
	}
	if got := countNotes(t, target); got != 2 {
		t.Errorf("target rows = %d, want 2 (untouched)", got)
	}
}
