package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conorfennell/cardcrawl/internal/domain"
)

// SourceType says how a source is fetched.
type SourceType string

const (
	SourceLocal SourceType = "local"
	SourceGit   SourceType = "git"
)

// Source represents a deck source, either a local directory or a Git URL.
type Source struct {
	ID          int64        `json:"id"`
	Path        string       `json:"path"`
	Type        SourceType   `json:"type"`
	LastScanned sql.NullTime `json:"-"`
}

// InsertSource inserts a new source path into the database and returns its ID.
func (db *DB) InsertSource(ctx context.Context, path string, typ SourceType) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sources (path, type)
		VALUES (?, ?)
	`, path, string(typ))
	if err != nil {
		return 0, wrap(fmt.Sprintf("failed to insert source %s", path), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrap(fmt.Sprintf("failed to get last insert ID for source %s", path), err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source from the database by its path.
func (db *DB) FindSourceByPath(ctx context.Context, path string) (Source, error) {
	var s Source
	var typ string
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, path, type, last_scanned
		FROM sources WHERE path = ?
	`, path).Scan(&s.ID, &s.Path, &typ, &s.LastScanned)
	if err != nil {
		return Source{}, wrap(fmt.Sprintf("failed to find source by path %s", path), err)
	}
	s.Type = SourceType(typ)
	return s, nil
}

// GetAllSources retrieves all stored sources from the database.
func (db *DB) GetAllSources(ctx context.Context) ([]Source, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, path, type, last_scanned
		FROM sources ORDER BY id
	`)
	if err != nil {
		return nil, wrap("failed to get all sources", err)
	}
	defer rows.Close()

	sources := []Source{}
	for rows.Next() {
		var s Source
		var typ string
		if err := rows.Scan(&s.ID, &s.Path, &typ, &s.LastScanned); err != nil {
			return nil, wrap("failed to scan source row", err)
		}
		s.Type = SourceType(typ)
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("failed to get all sources", err)
	}
	return sources, nil
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sources
		SET last_scanned = ?
		WHERE id = ?
	`, db.now().UTC(), sourceID)
	if err != nil {
		return wrap(fmt.Sprintf("failed to update last scanned for source ID %d", sourceID), err)
	}
	return nil
}

// DeleteSource removes a source. Decks synced from it are kept.
func (db *DB) DeleteSource(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return wrap(fmt.Sprintf("failed to delete source %d", id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListDecksBySourcePrefix returns the decks whose source path lies under dir.
func (db *DB) ListDecksBySourcePrefix(ctx context.Context, dir string) ([]domain.Deck, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, source_path, created_at FROM decks
		WHERE source_path != '' AND substr(source_path, 1, length(?)) = ?
		ORDER BY id
	`, dir, dir)
	if err != nil {
		return nil, wrap(fmt.Sprintf("failed to get decks under %s", dir), err)
	}
	defer rows.Close()

	var decks []domain.Deck
	for rows.Next() {
		var d domain.Deck
		if err := rows.Scan(&d.ID, &d.Name, &d.SourcePath, &d.CreatedAt); err != nil {
			return nil, wrap("failed to scan deck row", err)
		}
		d.CreatedAt = d.CreatedAt.UTC()
		decks = append(decks, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(fmt.Sprintf("failed to get decks under %s", dir), err)
	}
	return decks, nil
}
