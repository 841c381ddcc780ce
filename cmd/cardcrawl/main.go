package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/cardcrawl/internal/aigen"
	"github.com/conorfennell/cardcrawl/internal/combat"
	"github.com/conorfennell/cardcrawl/internal/config"
	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/conorfennell/cardcrawl/internal/game"
	"github.com/conorfennell/cardcrawl/internal/gitsource"
	"github.com/conorfennell/cardcrawl/internal/parser"
	"github.com/conorfennell/cardcrawl/internal/sm2"
	"github.com/conorfennell/cardcrawl/internal/storage"
	"github.com/conorfennell/cardcrawl/internal/sync"
	"github.com/conorfennell/cardcrawl/internal/web"
)

const usage = `Usage: cardcrawl [flags] <command> [args]

Commands:
  serve                    run the HTTP API
  import <file.csv>        import a CSV deck (--name overrides the deck name)
  add-source <path|url>    register a local directory or git repository
  sync                     reconcile decks with every source
  decks                    list decks with due counts
  stats <deck-id>          show review and run statistics for a deck

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "cardcrawl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("cardcrawl", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	name := fs.String("name", "", "deck name for import")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command given")
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	db, err := storage.Open(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	logger.Debug("database opened", "path", cfg.DB.Path)

	syncer := sync.NewSyncer(db, cfg.Sync.ReposDir, cfg.Sync.Workers, logger)

	switch cmd {
	case "serve":
		return serve(ctx, cfg, db, syncer, logger)
	case "import":
		if len(rest) != 1 {
			return errors.New("usage: cardcrawl import <file.csv> [--name NAME]")
		}
		return importDeck(ctx, db, rest[0], *name, stdout)
	case "add-source":
		if len(rest) != 1 {
			return errors.New("usage: cardcrawl add-source <path/or/url.git>")
		}
		return addNewSource(ctx, db, rest[0], stdout)
	case "sync":
		return runSync(ctx, syncer, stdout)
	case "decks":
		return listDecks(ctx, db, stdout)
	case "stats":
		if len(rest) != 1 {
			return errors.New("usage: cardcrawl stats <deck-id>")
		}
		return deckStats(ctx, db, rest[0], stdout)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serve(ctx context.Context, cfg config.Config, db *storage.DB, syncer *sync.Syncer, logger *slog.Logger) error {
	engine := combat.NewEngine(cfg.Game.Combat(), nil)
	ctrl := game.NewController(db, engine, sm2.DefaultParams(), game.WithLogger(logger))

	gen := aigen.New(cfg.AI, logger)
	if !gen.Enabled() {
		logger.Info("question generation disabled, set CARDCRAWL_AI__API_KEY to enable it")
	}

	srv := web.NewServer(db, ctrl, syncer, gen, web.Options{
		MaxUploadSize: cfg.Server.MaxUploadSize,
		GenerateRate:  cfg.Server.GenerateRate,
		GenerateBurst: cfg.Server.GenerateBurst,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func importDeck(ctx context.Context, db *storage.DB, path, name string, out io.Writer) error {
	res, err := parser.ParseFile(path)
	if err != nil {
		return err
	}
	if name == "" {
		name = parser.DeckName(path)
	}

	deck, err := db.CreateDeck(ctx, name, "")
	if err != nil {
		return err
	}
	for i := range res.Cards {
		res.Cards[i].DeckID = deck.ID
	}
	n, err := db.InsertCards(ctx, res.Cards, time.Now())
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Imported %d cards into deck %q (id %d).\n", n, deck.Name, deck.ID)
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if len(res.Errors) > 0 {
		fmt.Fprintf(out, "\n%d rows skipped:\n", len(res.Errors))
		for _, e := range res.Errors {
			fmt.Fprintf(out, "- %s\n", e)
		}
	}
	return nil
}

func addNewSource(ctx context.Context, db *storage.DB, path string, out io.Writer) error {
	typ := storage.SourceLocal
	if gitsource.IsRepoURL(path) {
		typ = storage.SourceGit
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("failed to stat source %s: %w", path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("source %s is not a directory", path)
		}
		path = abs
	}

	if _, err := db.FindSourceByPath(ctx, path); err == nil {
		fmt.Fprintf(out, "Source already exists: %s\n", path)
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	id, err := db.InsertSource(ctx, path, typ)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Added %s source %s (id %d). Run 'cardcrawl sync' to import its decks.\n", typ, path, id)
	return nil
}

func runSync(ctx context.Context, syncer *sync.Syncer, out io.Writer) error {
	reports, err := syncer.RunSync(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tFILES\tDECKS +/-\tCARDS +/-\tROW ERRORS\tERROR")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t+%d/-%d\t+%d/-%d\t%d\t%s\n",
			r.Path, r.Files, r.DecksCreated, r.DecksDeleted, r.CardsAdded, r.CardsDeleted, r.RowErrors, r.Error)
	}
	return tw.Flush()
}

func listDecks(ctx context.Context, db *storage.DB, out io.Writer) error {
	decks, err := db.ListDecks(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(decks) == 0 {
		fmt.Fprintln(out, "No decks yet, import one with: cardcrawl import <file.csv>")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCARDS\tDUE\tSOURCE")
	for _, d := range decks {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", d.ID, d.Name, d.TotalCards, d.DueCards, d.SourcePath)
	}
	return tw.Flush()
}

func deckStats(ctx context.Context, db *storage.DB, arg string, out io.Writer) error {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid deck id %q", arg)
	}
	st, err := db.DeckStats(ctx, id, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Cards:    %d (%d new, %d due)\n", st.TotalCards, st.NewCards, st.DueCards)
	fmt.Fprintf(out, "Progress: %d learning, %d mastered, %.0f%% seen\n", st.LearningCards, st.MasteredCards, st.CompletionPercent)
	fmt.Fprintf(out, "Reviews:  %d (%.0f%% correct)\n", st.TotalReviews, st.Accuracy*100)
	fmt.Fprintf(out, "Runs:     %d (%d won, best score %d, total score %d, played %s)\n",
		st.RunsPlayed, st.Victories, st.BestScore, st.TotalScore, time.Duration(st.TimePlayedSeconds)*time.Second)
	if len(st.WeakCards) > 0 {
		fmt.Fprintln(out, "\nNeeds practice:")
		for _, w := range st.WeakCards {
			fmt.Fprintf(out, "- %s (%.0f%% of %d correct)\n", firstLine(w.Front), w.Accuracy*100, w.Reviews)
		}
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
