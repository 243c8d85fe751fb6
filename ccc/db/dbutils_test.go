package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 4, 3, 2, 1, 12345, time.UTC)

	parsed, err := StringToTime(TimeToString(now))
	if err != nil {
		t.Fatalf("StringToTime() failed: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("Expected %v, got %v", now, parsed)
	}
}

func TestNullableStrings(t *testing.T) {
	if NullToStringPtr(StringPtrToNull(nil)) != nil {
		t.Error("nil pointer should survive the round trip as nil")
	}

	salt := "AAAAAAAAAAAAAAAAAAAAAA=="
	out := NullToStringPtr(StringPtrToNull(&salt))
	if out == nil || *out != salt {
		t.Errorf("Expected %q, got %v", salt, out)
	}
}

func TestWithTx(t *testing.T) {
	testDB, err := NewInMemoryDB()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer testDB.Close()

	if _, err := testDB.Exec(`CREATE TABLE items (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	ctx := context.Background()

	err = WithTx(ctx, testDB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (id) VALUES ('kept')`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() commit path failed: %v", err)
	}

	sentinel := errors.New("abort")
	err = WithTx(ctx, testDB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (id) VALUES ('discarded')`); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Expected sentinel error, got %v", err)
	}

	var count int
	if err := testDB.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 committed row, got %d", count)
	}
}
