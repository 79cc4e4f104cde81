package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrResetSinceDebit     = errors.New("balance was reset after the debit")
)

const (
	timeLayout         = "2006-01-02 15:04:05"
	maxPublicIDRetries = 8
)

// Storage handles all database operations
type Storage struct {
	db            *sql.DB
	defaultLimits int
	prefix        string

	// newPublicID is swapped in tests to force collisions
	newPublicID func() (string, error)
	now         func() time.Time
}

// New opens the database, creates missing tables and migrates older layouts
func New(dbPath string, defaultLimits int, publicIDPrefix string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection serializes every
	// read-modify-write instead of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	s := &Storage{
		db:            db,
		defaultLimits: defaultLimits,
		prefix:        publicIDPrefix,
		now:           time.Now,
	}
	s.newPublicID = func() (string, error) { return NewPublicID(s.prefix) }

	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := s.MigrateSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables if they are absent. Columns added after
// the first release are handled by MigrateSchema, so this is safe to run
// against a database created by any earlier version.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS subscribers (%s)`, subscribersColumns(s.defaultLimits)),

		`CREATE TABLE IF NOT EXISTS divinations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES subscribers(user_id),
			date TEXT NOT NULL,
			divination_type TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_divinations_user_id ON divinations(user_id)`,

		`CREATE TABLE IF NOT EXISTS credits (
			ref TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			source TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credits_user_id ON credits(user_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}

	return nil
}

func subscribersColumns(defaultLimits int) string {
	return fmt.Sprintf(`
			user_id INTEGER PRIMARY KEY,
			first_seen TEXT NOT NULL,
			limits INTEGER NOT NULL DEFAULT %d CHECK (limits >= 0),
			public_id TEXT UNIQUE COLLATE NOCASE,
			last_credited_at INTEGER,
			last_reset_at INTEGER`, defaultLimits)
}

// --- Accounts ---

// CreateAccount registers a subscriber on first contact. It returns the
// stored account and whether it was created by this call; an existing
// account is returned untouched.
func (s *Storage) CreateAccount(ctx context.Context, userID int64) (*Account, bool, error) {
	created, err := s.insertAccount(ctx, userID, s.now().Format(timeLayout))
	if err != nil {
		return nil, false, err
	}

	acc, err := s.Account(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return acc, created, nil
}

func (s *Storage) insertAccount(ctx context.Context, userID int64, firstSeen string) (bool, error) {
	for attempt := 0; attempt < maxPublicIDRetries; attempt++ {
		publicID, err := s.newPublicID()
		if err != nil {
			return false, err
		}

		result, err := s.db.ExecContext(ctx,
			`INSERT INTO subscribers (user_id, first_seen, limits, public_id)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			userID, firstSeen, s.defaultLimits, publicID,
		)
		if isUniqueViolation(err) {
			// public_id collision, user_id conflicts are absorbed by ON CONFLICT
			continue
		}
		if err != nil {
			return false, err
		}

		rows, _ := result.RowsAffected()
		return rows > 0, nil
	}

	return false, fmt.Errorf("generate unique public id: %w", ErrAlreadyExists)
}

// Account returns an account by internal user id
func (s *Storage) Account(ctx context.Context, userID int64) (*Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT user_id, first_seen, limits, public_id, last_credited_at
		 FROM subscribers WHERE user_id = ?`,
		userID,
	))
}

// AccountByPublicID returns an account by public id, ignoring case
func (s *Storage) AccountByPublicID(ctx context.Context, publicID string) (*Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT user_id, first_seen, limits, public_id, last_credited_at
		 FROM subscribers WHERE public_id = ? COLLATE NOCASE`,
		NormalizePublicID(publicID),
	))
}

// PublicIDFor returns the public id of an internal user id
func (s *Storage) PublicIDFor(ctx context.Context, userID int64) (string, error) {
	var publicID sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT public_id FROM subscribers WHERE user_id = ?",
		userID,
	).Scan(&publicID)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !publicID.Valid {
		return "", ErrNotFound
	}
	return publicID.String, nil
}

func (s *Storage) scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var firstSeen string
	var publicID sql.NullString
	var lastCredited sql.NullInt64

	err := row.Scan(&a.UserID, &firstSeen, &a.Limits, &publicID, &lastCredited)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.PublicID = publicID.String
	a.FirstSeen = parseTime(firstSeen)
	if lastCredited.Valid {
		t := time.Unix(lastCredited.Int64, 0)
		a.LastCreditedAt = &t
	}

	return &a, nil
}

// ListUserIDs returns every subscriber except the given one
func (s *Storage) ListUserIDs(ctx context.Context, exclude int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM subscribers WHERE user_id != ? ORDER BY user_id",
		exclude,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ImportSubscribers inserts legacy subscribers that are not known yet and
// returns how many were added
func (s *Storage) ImportSubscribers(ctx context.Context, subs []LegacySubscriber) (int, error) {
	added := 0
	for _, sub := range subs {
		firstSeen := sub.FirstSeen
		if firstSeen == "" {
			firstSeen = s.now().Format(timeLayout)
		}

		created, err := s.insertAccount(ctx, sub.UserID, firstSeen)
		if err != nil {
			return added, fmt.Errorf("import user %d: %w", sub.UserID, err)
		}
		if created {
			added++
		}
	}
	return added, nil
}

// --- Usage ---

// RecordUsage appends a divination, creating the account first if needed
func (s *Storage) RecordUsage(ctx context.Context, userID int64, kind string) (*UsageRecord, error) {
	if _, err := s.insertAccount(ctx, userID, s.now().Format(timeLayout)); err != nil {
		return nil, err
	}

	now := s.now()
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO divinations (user_id, date, divination_type) VALUES (?, ?, ?)",
		userID, now.Format(timeLayout), kind,
	)
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &UsageRecord{
		ID:     id,
		UserID: userID,
		Date:   now.Truncate(time.Second),
		Kind:   kind,
	}, nil
}

// ListUsage returns the divinations of a user, newest first
func (s *Storage) ListUsage(ctx context.Context, userID int64) ([]UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, date, divination_type
		 FROM divinations WHERE user_id = ? ORDER BY id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var r UsageRecord
		var date string
		if err := rows.Scan(&r.ID, &r.UserID, &date, &r.Kind); err != nil {
			return nil, err
		}
		r.Date = parseTime(date)
		records = append(records, r)
	}

	return records, rows.Err()
}

// Stats counts subscribers and divinations
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	dayStart := s.now().Format("2006-01-02") + " 00:00:00"

	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM subscribers),
			(SELECT COUNT(*) FROM divinations WHERE date >= ?),
			(SELECT COUNT(*) FROM divinations),
			(SELECT COALESCE(SUM(amount), 0) FROM credits)`,
		dayStart,
	).Scan(&st.Subscribers, &st.DivinationsDay, &st.DivinationsAll, &st.CreditedLimits)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, s, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
