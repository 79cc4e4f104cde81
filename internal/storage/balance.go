package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// --- Balance ---

// Debit subtracts amount from the balance only if the balance covers it.
// The check and the write are one conditional UPDATE, so concurrent
// debits cannot both pass the check.
func (s *Storage) Debit(ctx context.Context, userID int64, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE subscribers SET limits = limits - ? WHERE user_id = ? AND limits >= ?",
		amount, userID, amount,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	if _, err := s.Account(ctx, userID); err != nil {
		return err
	}
	return ErrInsufficientBalance
}

// Refund gives back a debit whose paid action did not complete. If a reset
// lifted the account after debitedAt the debit is already covered, and
// ErrResetSinceDebit is returned with nothing changed.
func (s *Storage) Refund(ctx context.Context, userID int64, amount int, debitedAt time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET limits = limits + ?
		 WHERE user_id = ? AND (last_reset_at IS NULL OR last_reset_at < ?)`,
		amount, userID, debitedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}

	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}
	if _, err := s.Account(ctx, userID); err != nil {
		return err
	}
	return ErrResetSinceDebit
}

// Credit adds amount to the account with the given public id and records
// ref. A ref that was already applied returns ErrAlreadyExists with the
// user id of the original credit and changes nothing.
func (s *Storage) Credit(ctx context.Context, publicID string, amount int, ref, source string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var userID int64
	err = tx.QueryRowContext(ctx,
		"SELECT user_id FROM subscribers WHERE public_id = ? COLLATE NOCASE",
		NormalizePublicID(publicID),
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	now := s.now().Unix()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO credits (ref, user_id, amount, source, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(ref) DO NOTHING`,
		ref, userID, amount, source, now,
	)
	if err != nil {
		return 0, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var original int64
		if err := tx.QueryRowContext(ctx, "SELECT user_id FROM credits WHERE ref = ?", ref).Scan(&original); err != nil {
			return 0, err
		}
		return original, ErrAlreadyExists
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE subscribers SET limits = limits + ?, last_credited_at = ? WHERE user_id = ?",
		amount, now, userID,
	); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return userID, nil
}

// ResetLimits lifts every balance below the daily floor. Limits credited at
// or after creditedSince stay on top of the floor for as long as the balance
// still holds them, so the target is floor + MIN(limits, credited since).
// A zero creditedSince gives every account the plain floor. Lifted accounts
// get last_reset_at, in milliseconds, which Refund checks.
func (s *Storage) ResetLimits(ctx context.Context, floor int, creditedSince time.Time) (int64, error) {
	target := "?"
	targetArgs := []any{floor}
	if !creditedSince.IsZero() {
		target = `? + MIN(limits, (
			SELECT COALESCE(SUM(c.amount), 0) FROM credits c
			WHERE c.user_id = subscribers.user_id AND c.created_at >= ?))`
		targetArgs = append(targetArgs, creditedSince.Unix())
	}

	query := fmt.Sprintf("UPDATE subscribers SET limits = %s, last_reset_at = ? WHERE limits < %s", target, target)
	args := append(append(append([]any{}, targetArgs...), s.now().UnixMilli()), targetArgs...)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetCredit returns a recorded credit by ref
func (s *Storage) GetCredit(ctx context.Context, ref string) (*Credit, error) {
	var c Credit
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		"SELECT ref, user_id, amount, source, created_at FROM credits WHERE ref = ?",
		ref,
	).Scan(&c.Ref, &c.UserID, &c.Amount, &c.Source, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}
