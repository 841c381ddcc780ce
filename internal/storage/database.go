package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/cardcrawl/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Open creates a new database connection and ensures the schema is up to date.
// A plain file path is opened with foreign keys enforced.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer; one connection keeps writes serialised.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db, now: time.Now}, nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// SetClock overrides the time source used for bookkeeping columns.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// wrap classifies a database error: missing rows become domain.ErrNotFound,
// everything else domain.ErrStoreUnavailable.
func wrap(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func (db *DB) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap(op, err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// CreateDeck inserts a new deck.
func (db *DB) CreateDeck(ctx context.Context, name, sourcePath string) (domain.Deck, error) {
	now := db.now().UTC()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO decks (name, source_path, created_at)
		VALUES (?, ?, ?)
	`, name, sourcePath, now)
	if err != nil {
		return domain.Deck{}, wrap(fmt.Sprintf("failed to insert deck %q", name), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Deck{}, wrap(fmt.Sprintf("failed to get last insert ID for deck %q", name), err)
	}
	return domain.Deck{ID: id, Name: name, SourcePath: sourcePath, CreatedAt: now}, nil
}

// GetDeck retrieves a deck by id.
func (db *DB) GetDeck(ctx context.Context, id int64) (domain.Deck, error) {
	var d domain.Deck
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, name, source_path, created_at FROM decks WHERE id = ?
	`, id).Scan(&d.ID, &d.Name, &d.SourcePath, &d.CreatedAt)
	if err != nil {
		return domain.Deck{}, wrap(fmt.Sprintf("failed to find deck %d", id), err)
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

// FindDeckBySourcePath retrieves the deck synced from a file.
func (db *DB) FindDeckBySourcePath(ctx context.Context, path string) (domain.Deck, error) {
	var d domain.Deck
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, name, source_path, created_at FROM decks WHERE source_path = ?
	`, path).Scan(&d.ID, &d.Name, &d.SourcePath, &d.CreatedAt)
	if err != nil {
		return domain.Deck{}, wrap(fmt.Sprintf("failed to find deck by path %s", path), err)
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

// DeckSummary is a deck with its card counts.
type DeckSummary struct {
	domain.Deck
	TotalCards int `json:"total_cards"`
	DueCards   int `json:"due_cards"`
}

// ListDecks retrieves all decks with the number of cards due at now.
func (db *DB) ListDecks(ctx context.Context, now time.Time) ([]DeckSummary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT d.id, d.name, d.source_path, d.created_at,
		       COUNT(c.id),
		       COUNT(CASE WHEN rs.due_at <= ? THEN 1 END)
		FROM decks d
		LEFT JOIN cards c ON c.deck_id = d.id
		LEFT JOIN review_states rs ON rs.card_id = c.id
		GROUP BY d.id
		ORDER BY d.id
	`, now.UTC())
	if err != nil {
		return nil, wrap("failed to list decks", err)
	}
	defer rows.Close()

	decks := []DeckSummary{}
	for rows.Next() {
		var s DeckSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.SourcePath, &s.CreatedAt, &s.TotalCards, &s.DueCards); err != nil {
			return nil, wrap("failed to scan deck row", err)
		}
		s.CreatedAt = s.CreatedAt.UTC()
		decks = append(decks, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("failed to list decks", err)
	}
	return decks, nil
}

// DeleteDeck removes a deck; its cards, states, runs and saves cascade.
func (db *DB) DeleteDeck(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM decks WHERE id = ?`, id)
	if err != nil {
		return wrap(fmt.Sprintf("failed to delete deck %d", id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deck %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
