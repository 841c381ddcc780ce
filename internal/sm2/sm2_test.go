package sm2

import (
	"testing"
	"time"

	"github.com/conorfennell/cardcrawl/internal/domain"
)

var grades = []domain.Grade{domain.Again, domain.Hard, domain.Good, domain.Easy}

func TestSchedule(t *testing.T) {
	params := DefaultParams()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	last := now.Add(-6 * day)
	reviewed := domain.ReviewState{
		CardID:         7,
		Repetitions:    3,
		EaseFactor:     2.5,
		IntervalDays:   6,
		DueAt:          now,
		LastReviewedAt: &last,
	}

	testCases := []struct {
		name         string
		state        domain.ReviewState
		grade        domain.Grade
		expectedReps int
		expectedIvl  int
		expectedEase float64
	}{
		{"Again resets progress", reviewed, domain.Again, 0, 0, 2.3},
		{"Hard grows interval slowly", reviewed, domain.Hard, 4, 7, 2.35},
		{"Good multiplies by ease", reviewed, domain.Good, 4, 15, 2.5},
		{"Easy adds bonus", reviewed, domain.Easy, 4, 20, 2.65},
		{"Good on new card graduates", domain.NewReviewState(1, now), domain.Good, 1, 1, 2.5},
		{"Easy on new card", domain.NewReviewState(1, now), domain.Easy, 1, 1, 2.65},
		{"Hard on new card is at least a day", domain.NewReviewState(1, now), domain.Hard, 1, 1, 2.35},
		{"Again on new card", domain.NewReviewState(1, now), domain.Again, 0, 0, 2.3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next := params.Schedule(tc.state, tc.grade, now)
			if next.Repetitions != tc.expectedReps {
				t.Errorf("Expected repetitions %d, got %d", tc.expectedReps, next.Repetitions)
			}
			if next.IntervalDays != tc.expectedIvl {
				t.Errorf("Expected interval %d, got %d", tc.expectedIvl, next.IntervalDays)
			}
			if diff := next.EaseFactor - tc.expectedEase; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Expected ease %.2f, got %.4f", tc.expectedEase, next.EaseFactor)
			}
			if next.LastReviewedAt == nil || !next.LastReviewedAt.Equal(now) {
				t.Errorf("Expected last review at %v, got %v", now, next.LastReviewedAt)
			}
			if want := now.Add(time.Duration(tc.expectedIvl) * day); !next.DueAt.Equal(want) {
				t.Errorf("Expected due at %v, got %v", want, next.DueAt)
			}
		})
	}
}

func TestScheduleDoesNotMutateInput(t *testing.T) {
	params := DefaultParams()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	state := domain.NewReviewState(1, now)

	_ = params.Schedule(state, domain.Easy, now)

	if state.Repetitions != 0 || state.LastReviewedAt != nil || state.EaseFactor != domain.DefaultEaseFactor {
		t.Errorf("Schedule modified its input: %+v", state)
	}
}

func TestScheduleIsDeterministic(t *testing.T) {
	params := DefaultParams()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	state := domain.ReviewState{CardID: 3, Repetitions: 2, EaseFactor: 2.1, IntervalDays: 4, DueAt: now}

	for _, g := range grades {
		a := params.Schedule(state, g, now)
		b := params.Schedule(state, g, now)
		if a.Repetitions != b.Repetitions || a.IntervalDays != b.IntervalDays ||
			a.EaseFactor != b.EaseFactor || !a.DueAt.Equal(b.DueAt) || !a.LastReviewedAt.Equal(*b.LastReviewedAt) {
			t.Errorf("Grade %s produced different states: %+v vs %+v", g, a, b)
		}
	}
}

func TestEaseFloorHoldsForAllSequences(t *testing.T) {
	params := DefaultParams()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// Walk every grade sequence of length 6 from a fresh card.
	var walk func(s domain.ReviewState, depth int)
	walk = func(s domain.ReviewState, depth int) {
		if depth == 0 {
			return
		}
		for _, g := range grades {
			next := params.Schedule(s, g, now)
			if next.EaseFactor < params.MinEase {
				t.Fatalf("Ease fell below floor: %.3f after %s", next.EaseFactor, g)
			}
			if next.IntervalDays < 0 || next.Repetitions < 0 {
				t.Fatalf("Negative interval or repetitions: %+v", next)
			}
			walk(next, depth-1)
		}
	}
	walk(domain.NewReviewState(1, now), 6)
}

func TestAgainNeverIncreasesInterval(t *testing.T) {
	params := DefaultParams()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, ivl := range []int{0, 1, 5, 40, 365} {
		state := domain.ReviewState{CardID: 1, Repetitions: 5, EaseFactor: 1.3, IntervalDays: ivl, DueAt: now}
		next := params.Schedule(state, domain.Again, now)
		if next.Repetitions != 0 {
			t.Errorf("Expected repetitions reset, got %d", next.Repetitions)
		}
		if next.IntervalDays > ivl {
			t.Errorf("Again increased interval from %d to %d", ivl, next.IntervalDays)
		}
		if next.EaseFactor != 1.3 {
			t.Errorf("Expected ease clamped at 1.3, got %.2f", next.EaseFactor)
		}
	}
}

func TestEaseCeiling(t *testing.T) {
	params := DefaultParams()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	state := domain.ReviewState{CardID: 1, EaseFactor: 3.45, IntervalDays: 2, DueAt: now}

	next := params.Schedule(state, domain.Easy, now)
	if next.EaseFactor != params.MaxEase {
		t.Errorf("Expected ease capped at %.2f, got %.2f", params.MaxEase, next.EaseFactor)
	}
}

func TestInvalidGradeLeavesStateUnchanged(t *testing.T) {
	params := DefaultParams()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	state := domain.NewReviewState(1, now)

	next := params.Schedule(state, domain.Grade(9), now)
	if next.LastReviewedAt != nil || next.Repetitions != 0 {
		t.Errorf("Expected unchanged state, got %+v", next)
	}
}

func TestDueAndOverdue(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	past := domain.ReviewState{DueAt: now.Add(-2 * day)}
	future := domain.ReviewState{DueAt: now.Add(day)}

	if !IsDue(past, now) || IsDue(future, now) {
		t.Error("IsDue misclassified states")
	}
	if !IsDue(domain.ReviewState{DueAt: now}, now) {
		t.Error("A card due exactly now should be due")
	}
	if Overdue(past, now) != 2*day {
		t.Errorf("Expected 48h overdue, got %v", Overdue(past, now))
	}
	if Overdue(future, now) >= 0 {
		t.Errorf("Expected negative overdue for future card, got %v", Overdue(future, now))
	}
}
