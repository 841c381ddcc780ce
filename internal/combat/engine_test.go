package combat

import (
	"encoding/json"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constRoller always returns the same roll: 1 never drops, 0 always drops
// the first table entry.
type constRoller float64

func (r constRoller) Float64() float64 { return float64(r) }

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func revealed(t *testing.T, e *Engine, gs *GameState) {
	t.Helper()
	require.NoError(t, e.PresentCard(gs, 1))
	require.NoError(t, e.Reveal(gs))
}

func TestNewRun(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))
	gs := e.NewRun(4, start)

	assert.NotEmpty(t, gs.RunID)
	assert.Equal(t, int64(4), gs.DeckID)
	assert.Equal(t, AwaitingCard, gs.Phase)
	assert.Equal(t, 100, gs.Player.HP)
	assert.Equal(t, 100, gs.Player.MaxHP)
	assert.Equal(t, 1.0, gs.Player.DamageMultiplier)
	assert.Equal(t, 0, gs.Progress.CurrentEncounter)
	assert.Equal(t, 10, gs.Progress.TotalEncounters)
	assert.Equal(t, "slime", gs.Enemy.Kind)
	assert.Equal(t, gs.Enemy.MaxHP, gs.Enemy.HP)
	assert.False(t, gs.Enemy.IsBoss)
}

func TestDifficultyCurveIsMonotonic(t *testing.T) {
	for _, total := range []int{1, 2, 3, 5, 10, 17} {
		cfg := DefaultConfig()
		cfg.TotalEncounters = total
		var prev Enemy
		for i := 0; i < total; i++ {
			enemy := cfg.enemyFor(i)
			if i > 0 {
				assert.GreaterOrEqual(t, enemy.MaxHP, prev.MaxHP, "total=%d index=%d", total, i)
				assert.GreaterOrEqual(t, enemy.Damage, prev.Damage, "total=%d index=%d", total, i)
				assert.GreaterOrEqual(t, enemy.ScoreValue, prev.ScoreValue, "total=%d index=%d", total, i)
			}
			assert.Equal(t, i == total-1, enemy.IsBoss, "total=%d index=%d", total, i)
			prev = enemy
		}
	}
}

func TestTransitionsRequirePhases(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))
	gs := e.NewRun(1, start)

	err := e.Reveal(gs)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = e.ResolveTurn(gs, domain.Good)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	require.NoError(t, e.PresentCard(gs, 9))
	assert.Equal(t, CardShown, gs.Phase)
	assert.Equal(t, int64(9), gs.CurrentCardID)
	assert.False(t, gs.CardRevealed)

	assert.ErrorIs(t, e.PresentCard(gs, 10), domain.ErrInvalidState)

	_, err = e.ResolveTurn(gs, domain.Good)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "grading before reveal")

	require.NoError(t, e.Reveal(gs))
	assert.True(t, gs.CardRevealed)
	assert.ErrorIs(t, e.Reveal(gs), domain.ErrInvalidState)
}

func TestResolveTurnTwiceFails(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))
	gs := e.NewRun(1, start)
	revealed(t, e, gs)

	_, err := e.ResolveTurn(gs, domain.Hard)
	require.NoError(t, err)

	_, err = e.ResolveTurn(gs, domain.Hard)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestResolveTurnDamageByGrade(t *testing.T) {
	testCases := []struct {
		grade    domain.Grade
		expected int
	}{
		{domain.Again, 0},
		{domain.Hard, 6},
		{domain.Good, 20},
		{domain.Easy, 40},
	}
	for _, tc := range testCases {
		t.Run(tc.grade.String(), func(t *testing.T) {
			e := NewEngine(DefaultConfig(), constRoller(1))
			gs := e.NewRun(1, start)
			gs.Enemy.HP, gs.Enemy.MaxHP = 500, 500
			revealed(t, e, gs)

			res, err := e.ResolveTurn(gs, tc.grade)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, res.DamageDealt)
			assert.Equal(t, 500-tc.expected, gs.Enemy.HP)
			assert.Equal(t, AwaitingCard, res.Outcome)
			assert.Equal(t, 1, gs.Stats.CardsReviewed)
			assert.Zero(t, gs.CurrentCardID)
			assert.False(t, gs.CardRevealed)
		})
	}
}

func TestRetaliationOnlyOnAgain(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))
	gs := e.NewRun(1, start)
	gs.Enemy.HP, gs.Enemy.MaxHP = 500, 500
	revealed(t, e, gs)

	res, err := e.ResolveTurn(gs, domain.Hard)
	require.NoError(t, err)
	assert.Zero(t, res.DamageTaken)
	assert.Equal(t, 100, gs.Player.HP)

	revealed(t, e, gs)
	res, err = e.ResolveTurn(gs, domain.Again)
	require.NoError(t, err)
	assert.Equal(t, gs.Enemy.Damage, res.DamageTaken)
	assert.Equal(t, 100-gs.Enemy.Damage, gs.Player.HP)
}

func TestWeakHitRoundingToZeroIsNotPunished(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDamage = 1
	e := NewEngine(cfg, constRoller(1))
	gs := e.NewRun(1, start)
	hp := gs.Enemy.HP
	revealed(t, e, gs)

	res, err := e.ResolveTurn(gs, domain.Hard)
	require.NoError(t, err)
	assert.Zero(t, res.DamageDealt)
	assert.Zero(t, res.DamageTaken)
	assert.Equal(t, hp, gs.Enemy.HP)
	assert.Equal(t, 100, gs.Player.HP)
	assert.Equal(t, AwaitingCard, res.Outcome)
}

func TestDiscardCard(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))
	gs := e.NewRun(1, start)

	assert.ErrorIs(t, e.DiscardCard(gs), domain.ErrInvalidState)

	require.NoError(t, e.PresentCard(gs, 3))
	require.NoError(t, e.DiscardCard(gs))
	assert.Equal(t, AwaitingCard, gs.Phase)
	assert.Zero(t, gs.CurrentCardID)

	revealed(t, e, gs)
	require.NoError(t, e.DiscardCard(gs))
	assert.Equal(t, AwaitingCard, gs.Phase)
	assert.False(t, gs.CardRevealed)
	assert.Zero(t, gs.Stats.CardsReviewed)
	assert.Equal(t, 100, gs.Player.HP)
}

func TestPlayerDefeated(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))
	gs := e.NewRun(1, start)
	gs.Player.HP = 10
	gs.Enemy.Damage = 15
	revealed(t, e, gs)

	res, err := e.ResolveTurn(gs, domain.Again)
	require.NoError(t, err)
	assert.Equal(t, PlayerDefeated, res.Outcome)
	assert.Equal(t, PlayerDefeated, gs.Phase)
	assert.Equal(t, 0, gs.Player.HP)
	assert.True(t, gs.Phase.Terminal())

	assert.ErrorIs(t, e.PresentCard(gs, 2), domain.ErrInvalidState)
}

func TestShieldAbsorbsRetaliation(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))
	gs := e.NewRun(1, start)
	gs.Player.Shield = 20
	gs.Enemy.Damage = 15
	revealed(t, e, gs)

	res, err := e.ResolveTurn(gs, domain.Again)
	require.NoError(t, err)
	assert.Equal(t, 100, gs.Player.HP)
	assert.Equal(t, 5, gs.Player.Shield)
	assert.Equal(t, 15, res.ShieldAbsorbed)
	assert.Zero(t, res.DamageTaken)

	revealed(t, e, gs)
	res, err = e.ResolveTurn(gs, domain.Again)
	require.NoError(t, err)
	assert.Equal(t, 5, res.ShieldAbsorbed)
	assert.Equal(t, 10, res.DamageTaken)
	assert.Equal(t, 90, gs.Player.HP)
	assert.Zero(t, gs.Player.Shield)
}

func TestKillAdvancesEncounter(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(0))
	gs := e.NewRun(1, start)
	gs.Enemy.HP = 5
	scoreValue := gs.Enemy.ScoreValue
	revealed(t, e, gs)

	res, err := e.ResolveTurn(gs, domain.Good)
	require.NoError(t, err)
	assert.True(t, res.EnemyDefeated)
	assert.Equal(t, scoreValue, res.ScoreGained)
	assert.Equal(t, scoreValue, gs.Player.Score)
	assert.Equal(t, HealthPotion, res.PowerupDropped)
	assert.Equal(t, 1, gs.Player.Inventory[HealthPotion])
	assert.Equal(t, 1, gs.Progress.CurrentEncounter)
	assert.Equal(t, AwaitingCard, res.Outcome)
	assert.Equal(t, gs.Enemy.MaxHP, gs.Enemy.HP, "next enemy spawns at full health")
}

func TestClearingLastEncounterIsVictory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TotalEncounters = 2
	e := NewEngine(cfg, constRoller(1))
	gs := e.NewRun(1, start)

	for i := 0; i < 2; i++ {
		gs.Enemy.HP = 1
		revealed(t, e, gs)
		res, err := e.ResolveTurn(gs, domain.Good)
		require.NoError(t, err)
		require.True(t, res.EnemyDefeated)
		if i == 0 {
			assert.Equal(t, AwaitingCard, res.Outcome)
			assert.True(t, gs.Enemy.IsBoss)
		} else {
			assert.Equal(t, Victory, res.Outcome)
		}
	}
	assert.Equal(t, 2, gs.Progress.CurrentEncounter)
	assert.Equal(t, 0, gs.Enemy.HP)
	assert.ErrorIs(t, e.PresentCard(gs, 3), domain.ErrInvalidState)
}

func TestHitPointsStayInRange(t *testing.T) {
	grades := []domain.Grade{domain.Again, domain.Hard, domain.Good, domain.Easy}
	rng := rand.New(rand.NewPCG(1, 2))
	e := NewEngine(DefaultConfig(), rng)

	for run := 0; run < 50; run++ {
		gs := e.NewRun(1, start)
		for turn := 0; turn < 200 && !gs.Phase.Terminal(); turn++ {
			if n := gs.Player.Inventory[HealthPotion]; n > 0 && rng.IntN(2) == 0 {
				_, err := e.UsePowerup(gs, HealthPotion)
				require.NoError(t, err)
			}
			revealed(t, e, gs)
			_, err := e.ResolveTurn(gs, grades[rng.IntN(len(grades))])
			require.NoError(t, err)

			require.GreaterOrEqual(t, gs.Player.HP, 0)
			require.LessOrEqual(t, gs.Player.HP, gs.Player.MaxHP)
			require.GreaterOrEqual(t, gs.Enemy.HP, 0)
			require.LessOrEqual(t, gs.Enemy.HP, gs.Enemy.MaxHP)
			require.LessOrEqual(t, gs.Progress.CurrentEncounter, gs.Progress.TotalEncounters)
		}
	}
}

func TestUsePowerup(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))

	t.Run("missing", func(t *testing.T) {
		gs := e.NewRun(1, start)
		_, err := e.UsePowerup(gs, HealthPotion)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = e.UsePowerup(gs, "mystery")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("heal is capped", func(t *testing.T) {
		gs := e.NewRun(1, start)
		gs.Player.HP = 90
		gs.Player.Inventory[HealthPotion] = 2
		_, err := e.UsePowerup(gs, HealthPotion)
		require.NoError(t, err)
		assert.Equal(t, 100, gs.Player.HP)
		assert.Equal(t, 1, gs.Player.Inventory[HealthPotion])
	})

	t.Run("shield stacks", func(t *testing.T) {
		gs := e.NewRun(1, start)
		gs.Player.Shield = 5
		gs.Player.Inventory[ShieldCharm] = 1
		_, err := e.UsePowerup(gs, ShieldCharm)
		require.NoError(t, err)
		assert.Equal(t, 25, gs.Player.Shield)
		_, present := gs.Player.Inventory[ShieldCharm]
		assert.False(t, present, "empty entries are removed")
	})

	t.Run("terminal run", func(t *testing.T) {
		gs := e.NewRun(1, start)
		gs.Phase = Victory
		gs.Player.Inventory[ShieldCharm] = 1
		_, err := e.UsePowerup(gs, ShieldCharm)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})
}

// The damage boost lasts for the next resolved turn only, whatever its grade.
func TestDamageBoostLastsOneTurn(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))
	gs := e.NewRun(1, start)
	gs.Enemy.HP, gs.Enemy.MaxHP = 500, 500
	gs.Player.Inventory[DoubleDamage] = 2

	_, err := e.UsePowerup(gs, DoubleDamage)
	require.NoError(t, err)
	revealed(t, e, gs)
	res, err := e.ResolveTurn(gs, domain.Good)
	require.NoError(t, err)
	assert.Equal(t, 40, res.DamageDealt)

	revealed(t, e, gs)
	res, err = e.ResolveTurn(gs, domain.Good)
	require.NoError(t, err)
	assert.Equal(t, 20, res.DamageDealt)

	// A miss still uses up the boost.
	_, err = e.UsePowerup(gs, DoubleDamage)
	require.NoError(t, err)
	revealed(t, e, gs)
	_, err = e.ResolveTurn(gs, domain.Again)
	require.NoError(t, err)
	assert.Equal(t, 1.0, gs.Player.DamageMultiplier)
}

func TestScoreBoostAppliesToNextKill(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))
	gs := e.NewRun(1, start)
	gs.Player.Inventory[LuckyCoin] = 1
	_, err := e.UsePowerup(gs, LuckyCoin)
	require.NoError(t, err)

	gs.Enemy.HP = 1
	gs.Enemy.ScoreValue = 100
	revealed(t, e, gs)
	res, err := e.ResolveTurn(gs, domain.Good)
	require.NoError(t, err)
	assert.Equal(t, 150, res.ScoreGained)
	assert.Equal(t, 1.0, gs.Player.ScoreMultiplier)
}

func TestSessionStats(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))
	gs := e.NewRun(1, start)
	gs.Enemy.HP, gs.Enemy.MaxHP = 1000, 1000

	for _, g := range []domain.Grade{domain.Good, domain.Again, domain.Easy, domain.Hard} {
		revealed(t, e, gs)
		_, err := e.ResolveTurn(gs, g)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, gs.Stats.CardsReviewed)
	assert.Equal(t, 2, gs.Stats.CardsCorrect)
	assert.InDelta(t, 50.0, gs.Stats.Accuracy, 1e-9)
}

func TestGameStateJSON(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))
	gs := e.NewRun(3, start)
	gs.Player.Inventory[LuckyCoin] = 2
	revealed(t, e, gs)

	data, err := json.Marshal(gs)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"phase":"CARD_REVEALED"`)

	var back GameState
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, gs, &back)
}

func TestCloneIsDeep(t *testing.T) {
	e := NewEngine(DefaultConfig(), constRoller(1))
	gs := e.NewRun(3, start)
	gs.Player.Inventory[HealthPotion] = 1

	c := gs.Clone()
	c.Player.Inventory[HealthPotion] = 5
	assert.Equal(t, 1, gs.Player.Inventory[HealthPotion])
}
