// Package game runs flashcard combat sessions, one active run per deck.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/conorfennell/cardcrawl/internal/combat"
	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/conorfennell/cardcrawl/internal/sm2"
)

// ErrNoActiveRun is returned when a deck has no run in progress.
var ErrNoActiveRun = fmt.Errorf("no active run: %w", domain.ErrNotFound)

var errCardRemoved = fmt.Errorf("current card was removed and another was drawn: %w", domain.ErrInvalidState)

// Controller owns the active run of every deck. Operations on one deck are
// serialised; different decks proceed in parallel.
type Controller struct {
	store  Store
	engine *combat.Engine
	sched  *sm2.Params
	now    func() time.Time
	log    *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// NewController wires a controller.
func NewController(store Store, engine *combat.Engine, sched *sm2.Params, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		engine: engine,
		sched:  sched,
		now:    time.Now,
		log:    slog.Default(),
		locks:  map[int64]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "game")
	return c
}

// CardView is the part of a card the player may currently see.
type CardView struct {
	ID    int64    `json:"id"`
	Front string   `json:"front"`
	Back  string   `json:"back,omitempty"`
	Tags  []string `json:"tags"`
}

// Snapshot is the state of a run as shown to the player.
type Snapshot struct {
	State *combat.GameState `json:"state"`
	Card  *CardView         `json:"card,omitempty"`
}

// TurnOutcome is the merged result of grading a card.
type TurnOutcome struct {
	Turn     combat.TurnResult  `json:"turn"`
	Review   domain.ReviewState `json:"review"`
	Snapshot Snapshot           `json:"snapshot"`
	Finished *RunRecord         `json:"finished,omitempty"`
}

func (c *Controller) lock(deckID int64) func() {
	c.mu.Lock()
	l, ok := c.locks[deckID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[deckID] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Start begins a new run on the deck, replacing any run in progress.
func (c *Controller) Start(ctx context.Context, deckID int64) (Snapshot, error) {
	defer c.lock(deckID)()

	cards, err := c.store.ListCards(ctx, deckID)
	if err != nil {
		return Snapshot{}, domain.DeckError("start", deckID, err)
	}
	if len(cards) == 0 {
		return Snapshot{}, domain.DeckError("start", deckID, domain.ErrNoCards)
	}

	now := c.now()
	if old, err := c.store.GetGameState(ctx, deckID); err != nil {
		return Snapshot{}, domain.DeckError("start", deckID, err)
	} else if old != nil {
		if _, err := c.archive(ctx, old, OutcomeAbandoned, now); err != nil {
			return Snapshot{}, domain.DeckError("start", deckID, err)
		}
	}

	gs := c.engine.NewRun(deckID, now)
	if err := c.drawCard(ctx, gs, cards, now); err != nil {
		return Snapshot{}, domain.DeckError("start", deckID, err)
	}
	if err := c.store.PutGameState(ctx, deckID, gs); err != nil {
		return Snapshot{}, domain.DeckError("start", deckID, err)
	}
	c.log.Info("run started", "deck_id", deckID, "run_id", gs.RunID, "cards", len(cards))
	return c.snapshot(ctx, gs)
}

// Status returns the active run of the deck.
func (c *Controller) Status(ctx context.Context, deckID int64) (Snapshot, error) {
	defer c.lock(deckID)()

	gs, err := c.active(ctx, "status", deckID)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := c.ensureCard(ctx, gs, c.now()); err != nil {
		return Snapshot{}, domain.DeckError("status", deckID, err)
	}
	return c.snapshot(ctx, gs)
}

// Reveal turns the current card over.
func (c *Controller) Reveal(ctx context.Context, deckID int64) (Snapshot, error) {
	defer c.lock(deckID)()

	gs, err := c.active(ctx, "reveal", deckID)
	if err != nil {
		return Snapshot{}, err
	}
	if gone, err := c.ensureCard(ctx, gs, c.now()); err != nil {
		return Snapshot{}, domain.DeckError("reveal", deckID, err)
	} else if gone != 0 {
		return Snapshot{}, &domain.OpError{Op: "reveal", DeckID: deckID, CardID: gone, Err: errCardRemoved}
	}
	if err := c.engine.Reveal(gs); err != nil {
		return Snapshot{}, &domain.OpError{Op: "reveal", DeckID: deckID, CardID: gs.CurrentCardID, Err: err}
	}
	if err := c.store.PutGameState(ctx, deckID, gs); err != nil {
		return Snapshot{}, domain.DeckError("reveal", deckID, err)
	}
	return c.snapshot(ctx, gs)
}

// SubmitGrade reschedules the revealed card, resolves the combat turn and
// either presents the next card or archives the finished run.
func (c *Controller) SubmitGrade(ctx context.Context, deckID int64, grade domain.Grade) (TurnOutcome, error) {
	defer c.lock(deckID)()

	if !grade.IsValid() {
		return TurnOutcome{}, domain.DeckError("submit grade", deckID, fmt.Errorf("grade %d: %w", int(grade), domain.ErrValidation))
	}
	gs, err := c.active(ctx, "submit grade", deckID)
	if err != nil {
		return TurnOutcome{}, err
	}
	cardID := gs.CurrentCardID
	fail := func(err error) (TurnOutcome, error) {
		return TurnOutcome{}, &domain.OpError{Op: "submit grade", DeckID: deckID, CardID: cardID, Err: err}
	}
	if gs.Phase != combat.CardRevealed || !gs.CardRevealed {
		return fail(fmt.Errorf("card not revealed, phase %s: %w", gs.Phase, domain.ErrInvalidState))
	}

	now := c.now()
	if gone, err := c.ensureCard(ctx, gs, now); err != nil {
		return fail(err)
	} else if gone != 0 {
		return fail(errCardRemoved)
	}
	state, err := c.store.GetReviewState(ctx, cardID)
	if errors.Is(err, domain.ErrNotFound) {
		state = domain.NewReviewState(cardID, now)
	} else if err != nil {
		return fail(err)
	}
	next := c.sched.Schedule(state, grade, now)

	turn, err := c.engine.ResolveTurn(gs, grade)
	if err != nil {
		return fail(err)
	}

	if err := c.store.PutReviewState(ctx, next); err != nil {
		return fail(err)
	}
	event := domain.ReviewEvent{
		CardID:       cardID,
		DeckID:       deckID,
		RunID:        gs.RunID,
		Grade:        grade,
		ReviewedAt:   now,
		IntervalDays: next.IntervalDays,
		EaseFactor:   next.EaseFactor,
		DamageDealt:  turn.DamageDealt,
	}
	if err := c.store.AppendReviewEvent(ctx, event); err != nil {
		return fail(err)
	}

	out := TurnOutcome{Turn: turn, Review: next}
	if gs.Phase.Terminal() {
		outcome := OutcomeVictory
		if gs.Phase == combat.PlayerDefeated {
			outcome = OutcomeDefeat
		}
		rec, err := c.archive(ctx, gs, outcome, now)
		if err != nil {
			return fail(err)
		}
		out.Finished = &rec
		out.Snapshot = Snapshot{State: gs}
		return out, nil
	}

	cards, err := c.store.ListCards(ctx, deckID)
	if err != nil {
		return fail(err)
	}
	if err := c.drawCard(ctx, gs, cards, now); err != nil {
		return fail(err)
	}
	if err := c.store.PutGameState(ctx, deckID, gs); err != nil {
		return fail(err)
	}
	out.Snapshot, err = c.snapshot(ctx, gs)
	if err != nil {
		return fail(err)
	}
	return out, nil
}

// UsePowerup consumes a power-up from the run's inventory.
func (c *Controller) UsePowerup(ctx context.Context, deckID int64, id combat.PowerupID) (Snapshot, error) {
	defer c.lock(deckID)()

	gs, err := c.active(ctx, "use powerup", deckID)
	if err != nil {
		return Snapshot{}, err
	}
	pu, err := c.engine.UsePowerup(gs, id)
	if err != nil {
		return Snapshot{}, domain.DeckError("use powerup", deckID, err)
	}
	if err := c.store.PutGameState(ctx, deckID, gs); err != nil {
		return Snapshot{}, domain.DeckError("use powerup", deckID, err)
	}
	c.log.Debug("powerup used", "deck_id", deckID, "run_id", gs.RunID, "powerup", pu.ID)
	return c.snapshot(ctx, gs)
}

// Save stores the active run under name, overwriting an existing save of
// the same name.
func (c *Controller) Save(ctx context.Context, deckID int64, name string) error {
	defer c.lock(deckID)()

	name = strings.TrimSpace(name)
	if name == "" {
		return domain.DeckError("save", deckID, fmt.Errorf("empty save name: %w", domain.ErrValidation))
	}
	gs, err := c.active(ctx, "save", deckID)
	if err != nil {
		return err
	}
	if err := c.store.PutSave(ctx, deckID, name, gs); err != nil {
		return domain.DeckError("save", deckID, err)
	}
	c.log.Info("run saved", "deck_id", deckID, "run_id", gs.RunID, "name", name)
	return nil
}

// Load restores a saved run, replacing the deck's active run.
func (c *Controller) Load(ctx context.Context, deckID int64, name string) (Snapshot, error) {
	defer c.lock(deckID)()

	gs, err := c.store.GetSave(ctx, deckID, strings.TrimSpace(name))
	if err != nil {
		return Snapshot{}, domain.DeckError("load", deckID, err)
	}
	if gs.DeckID != deckID {
		return Snapshot{}, domain.DeckError("load", deckID, fmt.Errorf("save %q belongs to deck %d: %w", name, gs.DeckID, domain.ErrNotFound))
	}
	now := c.now()
	if old, err := c.store.GetGameState(ctx, deckID); err != nil {
		return Snapshot{}, domain.DeckError("load", deckID, err)
	} else if old != nil && old.RunID != gs.RunID {
		if _, err := c.archive(ctx, old, OutcomeAbandoned, now); err != nil {
			return Snapshot{}, domain.DeckError("load", deckID, err)
		}
	}
	if _, err := c.ensureCard(ctx, gs, now); err != nil {
		return Snapshot{}, domain.DeckError("load", deckID, err)
	}
	if err := c.store.PutGameState(ctx, deckID, gs); err != nil {
		return Snapshot{}, domain.DeckError("load", deckID, err)
	}
	c.log.Info("run loaded", "deck_id", deckID, "run_id", gs.RunID, "name", name)
	return c.snapshot(ctx, gs)
}

// Saves lists the named saves of a deck, newest first.
func (c *Controller) Saves(ctx context.Context, deckID int64) ([]SaveInfo, error) {
	saves, err := c.store.ListSaves(ctx, deckID)
	if err != nil {
		return nil, domain.DeckError("list saves", deckID, err)
	}
	return saves, nil
}

// DeleteSave removes a named save.
func (c *Controller) DeleteSave(ctx context.Context, deckID int64, name string) error {
	if err := c.store.DeleteSave(ctx, deckID, strings.TrimSpace(name)); err != nil {
		return domain.DeckError("delete save", deckID, err)
	}
	return nil
}

// Abandon ends the active run without a winner.
func (c *Controller) Abandon(ctx context.Context, deckID int64) (RunRecord, error) {
	defer c.lock(deckID)()

	gs, err := c.active(ctx, "abandon", deckID)
	if err != nil {
		return RunRecord{}, err
	}
	rec, err := c.archive(ctx, gs, OutcomeAbandoned, c.now())
	if err != nil {
		return RunRecord{}, domain.DeckError("abandon", deckID, err)
	}
	return rec, nil
}

func (c *Controller) active(ctx context.Context, op string, deckID int64) (*combat.GameState, error) {
	gs, err := c.store.GetGameState(ctx, deckID)
	if err != nil {
		return nil, domain.DeckError(op, deckID, err)
	}
	if gs == nil {
		return nil, domain.DeckError(op, deckID, ErrNoActiveRun)
	}
	return gs, nil
}

func (c *Controller) drawCard(ctx context.Context, gs *combat.GameState, cards []domain.Card, now time.Time) error {
	states, err := c.store.ListReviewStates(ctx, gs.DeckID)
	if err != nil {
		return err
	}
	card, ok := SelectCard(cards, states, now)
	if !ok {
		return domain.ErrNoCards
	}
	return c.engine.PresentCard(gs, card.ID)
}

// ensureCard replaces the current card when it has been deleted from the
// deck and stores the updated run, returning the id of the dropped card. A
// run whose deck has no cards left is archived as abandoned.
func (c *Controller) ensureCard(ctx context.Context, gs *combat.GameState, now time.Time) (int64, error) {
	id := gs.CurrentCardID
	if id == 0 {
		return 0, nil
	}
	_, err := c.store.GetCard(ctx, id)
	if err == nil {
		return 0, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}
	if err := c.engine.DiscardCard(gs); err != nil {
		return 0, err
	}
	c.log.Warn("current card is gone, drawing another", "deck_id", gs.DeckID, "run_id", gs.RunID, "card_id", id)
	cards, err := c.store.ListCards(ctx, gs.DeckID)
	if err != nil {
		return 0, err
	}
	err = c.drawCard(ctx, gs, cards, now)
	if errors.Is(err, domain.ErrNoCards) {
		if _, archErr := c.archive(ctx, gs, OutcomeAbandoned, now); archErr != nil {
			return 0, archErr
		}
		return 0, err
	}
	if err != nil {
		return 0, err
	}
	if err := c.store.PutGameState(ctx, gs.DeckID, gs); err != nil {
		return 0, err
	}
	return id, nil
}

// archive turns the run into a statistics record and frees the deck slot.
func (c *Controller) archive(ctx context.Context, gs *combat.GameState, outcome Outcome, now time.Time) (RunRecord, error) {
	rec := RunRecord{
		DeckID:            gs.DeckID,
		RunID:             gs.RunID,
		Outcome:           outcome,
		CardsReviewed:     gs.Stats.CardsReviewed,
		CardsCorrect:      gs.Stats.CardsCorrect,
		Score:             gs.Player.Score,
		EncountersCleared: gs.Progress.CurrentEncounter,
		StartedAt:         gs.StartedAt,
		EndedAt:           now,
	}
	if err := c.store.ArchiveRun(ctx, rec); err != nil {
		return RunRecord{}, err
	}
	if err := c.store.PutGameState(ctx, gs.DeckID, nil); err != nil {
		return RunRecord{}, err
	}
	c.log.Info("run finished", "deck_id", gs.DeckID, "run_id", gs.RunID, "outcome", outcome, "score", gs.Player.Score)
	return rec, nil
}

func (c *Controller) snapshot(ctx context.Context, gs *combat.GameState) (Snapshot, error) {
	snap := Snapshot{State: gs}
	if gs.CurrentCardID == 0 {
		return snap, nil
	}
	card, err := c.store.GetCard(ctx, gs.CurrentCardID)
	if errors.Is(err, domain.ErrNotFound) {
		c.log.Warn("current card is gone", "deck_id", gs.DeckID, "card_id", gs.CurrentCardID)
		return snap, nil
	}
	if err != nil {
		return Snapshot{}, domain.DeckError("snapshot", gs.DeckID, err)
	}
	view := &CardView{ID: card.ID, Front: card.Front, Tags: card.Tags}
	if gs.CardRevealed {
		view.Back = card.Back
	}
	snap.Card = view
	return snap, nil
}
