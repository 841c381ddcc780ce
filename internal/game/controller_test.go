package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/conorfennell/cardcrawl/internal/combat"
	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/conorfennell/cardcrawl/internal/sm2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constRoller float64

func (r constRoller) Float64() float64 { return float64(r) }

var now = time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)

func newController(t *testing.T, cfg combat.Config) (*Controller, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	engine := combat.NewEngine(cfg, constRoller(1))
	c := NewController(store, engine, sm2.DefaultParams(), WithClock(func() time.Time { return now }))
	return c, store
}

func TestSingleCardVictory(t *testing.T) {
	ctx := context.Background()
	cfg := combat.DefaultConfig()
	cfg.TotalEncounters = 1
	cfg.DifficultyScaling = 1
	cfg.Boss = combat.StatBlock{Kind: "rat", Name: "Rat King", HP: 15, Damage: 5, Score: 50}
	c, store := newController(t, cfg)
	card := store.AddCard(1, "2+2?", "4", now)

	snap, err := c.Start(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, combat.CardShown, snap.State.Phase)
	assert.Equal(t, 0, snap.State.Progress.CurrentEncounter)
	assert.True(t, snap.State.Enemy.IsBoss)
	require.NotNil(t, snap.Card)
	assert.Equal(t, card.ID, snap.Card.ID)
	assert.Empty(t, snap.Card.Back, "back is hidden until reveal")

	snap, err = c.Reveal(ctx, 1)
	require.NoError(t, err)
	assert.True(t, snap.State.CardRevealed)
	assert.Equal(t, "4", snap.Card.Back)

	out, err := c.SubmitGrade(ctx, 1, domain.Good)
	require.NoError(t, err)
	assert.True(t, out.Turn.EnemyDefeated)
	assert.Equal(t, combat.Victory, out.Turn.Outcome)
	require.NotNil(t, out.Finished)
	assert.Equal(t, OutcomeVictory, out.Finished.Outcome)
	assert.Equal(t, 1, out.Finished.EncountersCleared)
	assert.Equal(t, 50, out.Finished.Score)

	gs, err := store.GetGameState(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, gs, "active slot cleared")
	assert.Len(t, store.Runs(), 1)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.Good, events[0].Grade)
	assert.Equal(t, card.ID, events[0].CardID)
	assert.Equal(t, 20, events[0].DamageDealt)

	rs, err := store.GetReviewState(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Repetitions)
	assert.Equal(t, 1, rs.IntervalDays)

	_, err = c.Status(ctx, 1)
	assert.ErrorIs(t, err, ErrNoActiveRun)
}

func TestStartEmptyDeck(t *testing.T) {
	c, _ := newController(t, combat.DefaultConfig())
	_, err := c.Start(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNoCards)

	var opErr *domain.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, int64(42), opErr.DeckID)
}

func TestSubmitGradeRequiresReveal(t *testing.T) {
	ctx := context.Background()
	c, store := newController(t, combat.DefaultConfig())
	store.AddCard(1, "front", "back", now)

	_, err := c.SubmitGrade(ctx, 1, domain.Good)
	assert.ErrorIs(t, err, ErrNoActiveRun)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.Start(ctx, 1)
	require.NoError(t, err)

	_, err = c.SubmitGrade(ctx, 1, domain.Good)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Empty(t, store.Events(), "nothing is scheduled before the reveal")

	_, err = c.SubmitGrade(ctx, 1, domain.Grade(0))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.Reveal(ctx, 1)
	require.NoError(t, err)
	out, err := c.SubmitGrade(ctx, 1, domain.Hard)
	require.NoError(t, err)
	assert.Equal(t, combat.CardShown, out.Snapshot.State.Phase, "next card presented")

	_, err = c.SubmitGrade(ctx, 1, domain.Hard)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestPlayerDefeatArchivesRun(t *testing.T) {
	ctx := context.Background()
	c, store := newController(t, combat.DefaultConfig())
	store.AddCard(1, "front", "back", now)

	_, err := c.Start(ctx, 1)
	require.NoError(t, err)
	gs, err := store.GetGameState(ctx, 1)
	require.NoError(t, err)
	gs.Player.HP = 10
	gs.Enemy.Damage = 15
	require.NoError(t, store.PutGameState(ctx, 1, gs))

	_, err = c.Reveal(ctx, 1)
	require.NoError(t, err)
	out, err := c.SubmitGrade(ctx, 1, domain.Again)
	require.NoError(t, err)

	assert.Equal(t, combat.PlayerDefeated, out.Turn.Outcome)
	assert.Equal(t, 0, out.Snapshot.State.Player.HP)
	require.NotNil(t, out.Finished)
	assert.Equal(t, OutcomeDefeat, out.Finished.Outcome)

	active, err := store.GetGameState(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, store := newController(t, combat.DefaultConfig())
	store.AddCard(7, "a", "b", now)
	store.AddCard(7, "c", "d", now)

	_, err := c.Start(ctx, 7)
	require.NoError(t, err)
	gs, err := store.GetGameState(ctx, 7)
	require.NoError(t, err)
	gs.Player.Inventory[combat.HealthPotion] = 2
	gs.Player.Inventory[combat.LuckyCoin] = 1
	gs.Player.Score = 340
	gs.Progress.CurrentEncounter = 3
	require.NoError(t, store.PutGameState(ctx, 7, gs))

	require.NoError(t, c.Save(ctx, 7, "x"))

	_, err = c.Reveal(ctx, 7)
	require.NoError(t, err)
	_, err = c.SubmitGrade(ctx, 7, domain.Again)
	require.NoError(t, err)

	snap, err := c.Load(ctx, 7, "x")
	require.NoError(t, err)
	assert.Equal(t, gs, snap.State)

	status, err := c.Status(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, gs, status.State)

	saves, err := c.Saves(ctx, 7)
	require.NoError(t, err)
	require.Len(t, saves, 1)
	assert.Equal(t, "x", saves[0].Name)
	assert.Equal(t, 340, saves[0].Score)

	_, err = c.Load(ctx, 7, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, c.Save(ctx, 7, "  "), domain.ErrValidation)

	require.NoError(t, c.DeleteSave(ctx, 7, "x"))
	assert.ErrorIs(t, c.DeleteSave(ctx, 7, "x"), domain.ErrNotFound)
}

func TestLoadReplacesActiveRun(t *testing.T) {
	ctx := context.Background()
	c, store := newController(t, combat.DefaultConfig())
	store.AddCard(1, "a", "b", now)

	first, err := c.Start(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, c.Save(ctx, 1, "slot"))

	second, err := c.Start(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, first.State.RunID, second.State.RunID)
	require.Len(t, store.Runs(), 1, "the replaced run is archived")
	assert.Equal(t, OutcomeAbandoned, store.Runs()[0].Outcome)

	loaded, err := c.Load(ctx, 1, "slot")
	require.NoError(t, err)
	assert.Equal(t, first.State.RunID, loaded.State.RunID)

	runs := store.Runs()
	require.Len(t, runs, 2, "the run replaced by the load is archived")
	assert.Equal(t, second.State.RunID, runs[1].RunID)
	assert.Equal(t, OutcomeAbandoned, runs[1].Outcome)

	_, err = c.Load(ctx, 1, "slot")
	require.NoError(t, err)
	assert.Len(t, store.Runs(), 2, "reloading the active run archives nothing")
}

func TestDeleteSaveTrimsName(t *testing.T) {
	ctx := context.Background()
	c, store := newController(t, combat.DefaultConfig())
	store.AddCard(1, "a", "b", now)

	_, err := c.Start(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, c.Save(ctx, 1, " x "))

	require.NoError(t, c.DeleteSave(ctx, 1, " x "))
	saves, err := c.Saves(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, saves)
	assert.ErrorIs(t, c.DeleteSave(ctx, 1, "x"), domain.ErrNotFound)
}

func TestRemovedCardIsReplaced(t *testing.T) {
	ctx := context.Background()
	c, store := newController(t, combat.DefaultConfig())
	first := store.AddCard(1, "a", "b", now)
	second := store.AddCard(1, "c", "d", now)

	snap, err := c.Start(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, first.ID, snap.Card.ID)
	_, err = c.Reveal(ctx, 1)
	require.NoError(t, err)

	store.RemoveCard(first.ID)

	_, err = c.SubmitGrade(ctx, 1, domain.Good)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	var opErr *domain.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, first.ID, opErr.CardID)
	assert.Empty(t, store.Events())

	snap, err = c.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, combat.CardShown, snap.State.Phase)
	require.NotNil(t, snap.Card)
	assert.Equal(t, second.ID, snap.Card.ID)

	_, err = c.Reveal(ctx, 1)
	require.NoError(t, err)
	out, err := c.SubmitGrade(ctx, 1, domain.Good)
	require.NoError(t, err)
	assert.Equal(t, 20, out.Turn.DamageDealt)
	require.Len(t, store.Events(), 1)
	assert.Equal(t, second.ID, store.Events()[0].CardID)
}

func TestRemovedLastCardEndsRun(t *testing.T) {
	ctx := context.Background()
	c, store := newController(t, combat.DefaultConfig())
	card := store.AddCard(1, "a", "b", now)

	_, err := c.Start(ctx, 1)
	require.NoError(t, err)
	store.RemoveCard(card.ID)

	_, err = c.Reveal(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNoCards)
	require.Len(t, store.Runs(), 1)
	assert.Equal(t, OutcomeAbandoned, store.Runs()[0].Outcome)

	_, err = c.Status(ctx, 1)
	assert.ErrorIs(t, err, ErrNoActiveRun)
}

func TestUsePowerupThroughController(t *testing.T) {
	ctx := context.Background()
	c, store := newController(t, combat.DefaultConfig())
	store.AddCard(1, "a", "b", now)

	_, err := c.Start(ctx, 1)
	require.NoError(t, err)

	_, err = c.UsePowerup(ctx, 1, combat.ShieldCharm)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	gs, err := store.GetGameState(ctx, 1)
	require.NoError(t, err)
	gs.Player.Inventory[combat.ShieldCharm] = 1
	require.NoError(t, store.PutGameState(ctx, 1, gs))

	snap, err := c.UsePowerup(ctx, 1, combat.ShieldCharm)
	require.NoError(t, err)
	assert.Equal(t, 20, snap.State.Player.Shield)
	assert.Empty(t, snap.State.Player.Inventory)
}

func TestAbandon(t *testing.T) {
	ctx := context.Background()
	c, store := newController(t, combat.DefaultConfig())
	store.AddCard(1, "a", "b", now)

	_, err := c.Abandon(ctx, 1)
	assert.ErrorIs(t, err, ErrNoActiveRun)

	_, err = c.Start(ctx, 1)
	require.NoError(t, err)
	rec, err := c.Abandon(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbandoned, rec.Outcome)
	assert.Equal(t, now, rec.EndedAt)

	_, err = c.Status(ctx, 1)
	assert.ErrorIs(t, err, ErrNoActiveRun)
}

func TestDecksRunIndependently(t *testing.T) {
	ctx := context.Background()
	c, store := newController(t, combat.DefaultConfig())
	for deck := int64(1); deck <= 4; deck++ {
		store.AddCard(deck, "front", "back", now)
		store.AddCard(deck, "front 2", "back 2", now)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for deck := int64(1); deck <= 4; deck++ {
		wg.Add(1)
		go func(deck int64) {
			defer wg.Done()
			if _, err := c.Start(ctx, deck); err != nil {
				errs <- err
				return
			}
			for i := 0; i < 5; i++ {
				if _, err := c.Reveal(ctx, deck); err != nil {
					errs <- err
					return
				}
				if _, err := c.SubmitGrade(ctx, deck, domain.Hard); err != nil {
					errs <- err
					return
				}
			}
		}(deck)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.Len(t, store.Events(), 20)
	for deck := int64(1); deck <= 4; deck++ {
		snap, err := c.Status(ctx, deck)
		require.NoError(t, err)
		assert.Equal(t, 5, snap.State.Stats.CardsReviewed)
	}
}
