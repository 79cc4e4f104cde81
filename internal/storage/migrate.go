package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// MigrateSchema brings a subscribers table created by an older release up
// to date. It is a no-op when every column is already present.
//
// public_id needs a UNIQUE constraint that sqlite cannot add to an existing
// column, so that step rebuilds the table: add the column, backfill it,
// copy rows into a table with the constraint and swap it in. All of it runs
// in one transaction; on failure the original table is left as it was.
func (s *Storage) MigrateSchema(ctx context.Context) error {
	cols, err := s.tableColumns(ctx, s.db, "subscribers")
	if err != nil {
		return err
	}

	if !cols["public_id"] {
		if err := s.rebuildWithPublicID(ctx, cols); err != nil {
			return fmt.Errorf("add public_id: %w", err)
		}
		return nil
	}

	for _, col := range addedColumns {
		if cols[col] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE subscribers ADD COLUMN %s INTEGER", col)); err != nil {
			return fmt.Errorf("add %s: %w", col, err)
		}
	}

	return nil
}

// nullable columns added after public_id, in release order
var addedColumns = []string{"last_credited_at", "last_reset_at"}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Storage) tableColumns(ctx context.Context, q queryer, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}

	return cols, rows.Err()
}

func (s *Storage) rebuildWithPublicID(ctx context.Context, cols map[string]bool) error {
	// foreign_keys can only be toggled outside a transaction, and dropping
	// the parent table with it on would cascade into divinations.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return err
	}
	defer conn.ExecContext(context.Background(), "PRAGMA foreign_keys = ON")

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "ALTER TABLE subscribers ADD COLUMN public_id TEXT"); err != nil {
		return err
	}

	if err := s.backfillPublicIDs(ctx, tx); err != nil {
		return err
	}

	var before int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM subscribers").Scan(&before); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS subscribers_new"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("CREATE TABLE subscribers_new (%s)", subscribersColumns(s.defaultLimits)),
	); err != nil {
		return err
	}

	lastCredited := "NULL"
	if cols["last_credited_at"] {
		lastCredited = "last_credited_at"
	}
	copyQuery := fmt.Sprintf(
		`INSERT INTO subscribers_new (user_id, first_seen, limits, public_id, last_credited_at)
		 SELECT user_id, COALESCE(first_seen, ?), MAX(COALESCE(limits, ?), 0), public_id, %s
		 FROM subscribers`,
		lastCredited,
	)
	if _, err := tx.ExecContext(ctx, copyQuery, s.now().Format(timeLayout), s.defaultLimits); err != nil {
		return err
	}

	var after int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM subscribers_new").Scan(&after); err != nil {
		return err
	}
	if after != before {
		return fmt.Errorf("rebuild copied %d of %d rows", after, before)
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE subscribers"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "ALTER TABLE subscribers_new RENAME TO subscribers"); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Storage) backfillPublicIDs(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, "SELECT user_id FROM subscribers WHERE public_id IS NULL")
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// No UNIQUE index exists yet, so uniqueness is tracked here.
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		var publicID string
		for attempt := 0; ; attempt++ {
			if attempt == maxPublicIDRetries {
				return fmt.Errorf("generate unique public id: %w", ErrAlreadyExists)
			}
			publicID, err = s.newPublicID()
			if err != nil {
				return err
			}
			if !seen[publicID] {
				break
			}
		}
		seen[publicID] = true

		if _, err := tx.ExecContext(ctx,
			"UPDATE subscribers SET public_id = ? WHERE user_id = ?",
			publicID, id,
		); err != nil {
			return err
		}
	}

	return nil
}
