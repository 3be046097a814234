package recipient

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Schema creates the directory tables.
const Schema = `
	CREATE TABLE IF NOT EXISTS recipients (
		id TEXT PRIMARY KEY,
		role TEXT CHECK(role IN ('admin', 'employee', 'user')) NOT NULL DEFAULT 'user',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recipient_addresses (
		recipient_id TEXT NOT NULL,
		address TEXT NOT NULL,
		registered_at INTEGER NOT NULL, -- unix nanoseconds
		PRIMARY KEY (recipient_id, address),
		FOREIGN KEY (recipient_id) REFERENCES recipients(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_recipient_addresses_address ON recipient_addresses(address);`

// SQLiteDirectory implements Directory on SQLite.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLiteDirectory creates a directory on db.
func NewSQLiteDirectory(db *sql.DB) *SQLiteDirectory {
	return &SQLiteDirectory{db: db}
}

// Migrate creates the tables if they don't exist.
func (d *SQLiteDirectory) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create recipient schema: %w", err)
	}
	return nil
}

// ResolveAddresses implements Directory.ResolveAddresses
func (d *SQLiteDirectory) ResolveAddresses(ctx context.Context, recipientID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT address FROM recipient_addresses
		WHERE recipient_id = ?
		ORDER BY registered_at DESC, rowid DESC`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// RegisterRecipient implements Directory.RegisterRecipient
func (d *SQLiteDirectory) RegisterRecipient(ctx context.Context, recipientID string, role Role) error {
	if _, err := validateRegistration(recipientID, role, "", false); err != nil {
		return err
	}
	return d.upsert(ctx, d.db, recipientID, role)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (d *SQLiteDirectory) upsert(ctx context.Context, db execer, recipientID string, role Role) error {
	var err error
	if role == "" {
		_, err = db.ExecContext(ctx, `
			INSERT INTO recipients (id, role, created_at) VALUES (?, 'user', ?)
			ON CONFLICT(id) DO NOTHING`, recipientID, now().UnixMilli())
	} else {
		_, err = db.ExecContext(ctx, `
			INSERT INTO recipients (id, role, created_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET role = excluded.role`, recipientID, string(role), now().UnixMilli())
	}
	if err != nil {
		return fmt.Errorf("failed to save recipient: %w", err)
	}
	return nil
}

// RegisterAddress implements Directory.RegisterAddress
func (d *SQLiteDirectory) RegisterAddress(ctx context.Context, recipientID string, role Role, address string) error {
	address, err := validateRegistration(recipientID, role, address, true)
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := d.upsert(ctx, tx, recipientID, role); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO recipient_addresses (recipient_id, address, registered_at) VALUES (?, ?, ?)
		ON CONFLICT(recipient_id, address) DO UPDATE SET registered_at = excluded.registered_at`,
		recipientID, address, now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save address: %w", err)
	}
	return tx.Commit()
}

// RemoveAddress implements Directory.RemoveAddress
func (d *SQLiteDirectory) RemoveAddress(ctx context.Context, address string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM recipient_addresses WHERE address = ?`, address); err != nil {
		return fmt.Errorf("failed to remove address: %w", err)
	}
	return nil
}

// Recipients implements Directory.Recipients
func (d *SQLiteDirectory) Recipients(ctx context.Context, filter Filter) ([]Recipient, error) {
	var conditions []string
	var args []interface{}
	if filter.Role != "" {
		conditions = append(conditions, "r.role = ?")
		args = append(args, string(filter.Role))
	}
	if len(filter.IDs) > 0 {
		conditions = append(conditions, "r.id IN (?"+strings.Repeat(", ?", len(filter.IDs)-1)+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}

	query := `
		SELECT r.id, r.role, a.address
		FROM recipients r
		LEFT JOIN recipient_addresses a ON a.recipient_id = r.id`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY r.id, a.registered_at DESC, a.rowid DESC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var id, role string
		var addr sql.NullString
		if err := rows.Scan(&id, &role, &addr); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, Recipient{ID: id, Role: Role(role)})
		}
		if addr.Valid {
			last := &out[len(out)-1]
			last.Addresses = append(last.Addresses, addr.String)
		}
	}
	return out, rows.Err()
}
