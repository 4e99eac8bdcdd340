package storage

import (
	"context"
	"fmt"
	"time"
)

// TimestampLayout is the local wall-clock layout used for attendance rows.
const TimestampLayout = "2006-01-02 15:04:05"

// Record is one attendance event joined with the user's name.
type Record struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
}

// Ledger is the append-only attendance log.
type Ledger struct {
	db *DB
}

// NewLedger creates a ledger over db.
func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

// Mark appends an attendance row for userID at the given local time.
// Repeated marks for the same user are kept.
func (l *Ledger) Mark(ctx context.Context, userID int64, at time.Time) (*Record, error) {
	ts := at.Local().Format(TimestampLayout)
	res, err := l.db.Client.ExecContext(ctx,
		`INSERT INTO attendance (user_id, timestamp) VALUES (?, ?)`, userID, ts)
	if err != nil {
		return nil, fmt.Errorf("insert attendance: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read attendance id: %w", err)
	}
	return &Record{ID: id, UserID: userID, Timestamp: ts}, nil
}

// Records returns every attendance row joined with its user's name, in
// insertion order. Rows whose user no longer exists are omitted.
func (l *Ledger) Records(ctx context.Context) ([]Record, error) {
	rows, err := l.db.Client.QueryContext(ctx, `
		SELECT a.id, a.user_id, u.name, a.timestamp
		FROM attendance a
		JOIN users u ON u.id = a.user_id
		ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of attendance rows.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return n, nil
}
