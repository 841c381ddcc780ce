package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/conorfennell/cardcrawl/internal/gitsource"
	"github.com/conorfennell/cardcrawl/internal/parser"
	"github.com/conorfennell/cardcrawl/internal/storage"
)

// Syncer reconciles configured sources of CSV decks into the store.
type Syncer struct {
	db       *storage.DB
	reposDir string
	workers  int
	log      *slog.Logger
	now      func() time.Time
}

// NewSyncer returns a Syncer that clones git sources under reposDir and
// parses up to workers files at once.
func NewSyncer(db *storage.DB, reposDir string, workers int, logger *slog.Logger) *Syncer {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		db:       db,
		reposDir: reposDir,
		workers:  workers,
		log:      logger.With("component", "sync"),
		now:      time.Now,
	}
}

// SourceReport summarises one reconciled source.
type SourceReport struct {
	SourceID     int64  `json:"source_id"`
	Path         string `json:"path"`
	Files        int    `json:"files"`
	DecksCreated int    `json:"decks_created"`
	DecksDeleted int    `json:"decks_deleted"`
	CardsAdded   int    `json:"cards_added"`
	CardsDeleted int    `json:"cards_deleted"`
	RowErrors    int    `json:"row_errors"`
	Error        string `json:"error,omitempty"`
}

// RunSync iterates over all sources and reconciles them. A failing source
// is logged and reported; it does not stop the others.
func (s *Syncer) RunSync(ctx context.Context) ([]SourceReport, error) {
	s.log.Info("starting sync process for all sources")
	sources, err := s.db.GetAllSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}

	if len(sources) == 0 {
		s.log.Info("no sources configured, add one with: cardcrawl add-source <path/or/url.git>")
		return nil, nil
	}

	reports := make([]SourceReport, 0, len(sources))
	for _, source := range sources {
		rep, err := s.SyncSource(ctx, source)
		if err != nil {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			s.log.Error("failed to sync source", "id", source.ID, "path", source.Path, "error", err)
			rep.Error = err.Error()
		}
		reports = append(reports, rep)
	}
	s.log.Info("sync process complete", "sources", len(sources))
	return reports, nil
}

// SyncSource reconciles a single source, fetching it first when it is a
// git repository.
func (s *Syncer) SyncSource(ctx context.Context, source storage.Source) (SourceReport, error) {
	rep := SourceReport{SourceID: source.ID, Path: source.Path}
	s.log.Info("syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

	dir := source.Path
	switch source.Type {
	case storage.SourceLocal:
	case storage.SourceGit:
		localRepoPath, err := gitsource.LocalPath(s.reposDir, source.Path)
		if err != nil {
			return rep, err
		}
		if err := gitsource.Sync(ctx, source.Path, localRepoPath, s.log); err != nil {
			return rep, err
		}
		dir = localRepoPath
	default:
		return rep, fmt.Errorf("unknown source type %q", source.Type)
	}

	if err := s.reconcile(ctx, dir, &rep); err != nil {
		return rep, err
	}
	if err := s.db.UpdateSourceLastScanned(ctx, source.ID); err != nil {
		s.log.Warn("failed to update last scanned for source", "source_id", source.ID, "error", err)
	}
	s.log.Info("reconciliation complete",
		"path", dir,
		"files", rep.Files,
		"cards_added", rep.CardsAdded,
		"cards_deleted", rep.CardsDeleted,
		"decks_deleted", rep.DecksDeleted,
		"row_errors", rep.RowErrors,
	)
	return rep, nil
}

type parsedFile struct {
	path   string
	result parser.Result
	err    error
}

func (s *Syncer) reconcile(ctx context.Context, dir string, rep *SourceReport) error {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	paths, err := csvFiles(dir)
	if err != nil {
		return fmt.Errorf("error walking directory %s: %w", dir, err)
	}
	rep.Files = len(paths)

	files := make([]parsedFile, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := parser.ParseFile(path)
			files[i] = parsedFile{path: path, result: res, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.path] = true
		rep.RowErrors += len(f.result.Errors)
		if f.err != nil {
			// Keep the existing deck; a broken file should not wipe progress.
			s.log.Warn("skipping unparseable deck file", "path", f.path, "error", f.err)
			continue
		}
		for _, rowErr := range f.result.Errors {
			s.log.Debug("rejected row", "path", f.path, "error", rowErr)
		}
		if err := s.reconcileFile(ctx, f, rep); err != nil {
			return err
		}
	}

	decks, err := s.db.ListDecksBySourcePrefix(ctx, dir+string(filepath.Separator))
	if err != nil {
		return err
	}
	for _, deck := range decks {
		if seen[deck.SourcePath] {
			continue
		}
		s.log.Info("deck file removed, deleting deck", "deck_id", deck.ID, "path", deck.SourcePath)
		if err := s.db.DeleteDeck(ctx, deck.ID); err != nil {
			return err
		}
		rep.DecksDeleted++
	}
	return nil
}

func (s *Syncer) reconcileFile(ctx context.Context, f parsedFile, rep *SourceReport) error {
	deck, err := s.db.FindDeckBySourcePath(ctx, f.path)
	if errors.Is(err, domain.ErrNotFound) {
		deck, err = s.db.CreateDeck(ctx, parser.DeckName(f.path), f.path)
		if err == nil {
			rep.DecksCreated++
			s.log.Info("new deck found", "deck_id", deck.ID, "path", f.path)
		}
	}
	if err != nil {
		return err
	}

	existing, err := s.db.ListCards(ctx, deck.ID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[c.Hash] = true
	}

	found := make(map[string]bool, len(f.result.Cards))
	var fresh []domain.Card
	for _, c := range f.result.Cards {
		found[c.Hash] = true
		if !known[c.Hash] {
			c.DeckID = deck.ID
			fresh = append(fresh, c)
		}
	}
	if len(fresh) > 0 {
		n, err := s.db.InsertCards(ctx, fresh, s.now())
		if err != nil {
			return err
		}
		rep.CardsAdded += n
	}

	for _, c := range existing {
		if found[c.Hash] {
			continue
		}
		s.log.Info("orphaned card, deleting", "deck_id", deck.ID, "hash", c.Hash)
		if err := s.db.DeleteCardByHash(ctx, deck.ID, c.Hash); err != nil {
			s.log.Warn("failed to delete orphaned card", "hash", c.Hash, "error", err)
			continue
		}
		rep.CardsDeleted++
	}
	return nil
}

// csvFiles lists the .csv files below dir, skipping hidden directories such
// as .git.
func csvFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".csv") {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
