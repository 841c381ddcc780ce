// Package sm2 implements a simplified SuperMemo-2 review scheduler.
package sm2

import (
	"math"
	"time"

	"github.com/conorfennell/cardcrawl/internal/domain"
)

const day = 24 * time.Hour

// Params holds the tuning constants of the scheduler.
type Params struct {
	MinEase        float64 // floor for the ease factor
	MaxEase        float64 // ceiling for the ease factor, zero disables it
	AgainPenalty   float64 // ease lost on Again
	HardPenalty    float64 // ease lost on Hard
	EasyBonus      float64 // ease gained on Easy
	HardMultiplier float64 // interval growth on Hard
	EasyMultiplier float64 // extra interval growth on Easy
}

// DefaultParams returns the standard simplified SM-2 constants.
func DefaultParams() *Params {
	return &Params{
		MinEase:        1.3,
		MaxEase:        3.5,
		AgainPenalty:   0.2,
		HardPenalty:    0.15,
		EasyBonus:      0.15,
		HardMultiplier: 1.2,
		EasyMultiplier: 1.3,
	}
}

// Schedule returns the review state that results from grading s at now.
// It does not modify s. An invalid grade returns s unchanged.
func (p *Params) Schedule(s domain.ReviewState, grade domain.Grade, now time.Time) domain.ReviewState {
	if !grade.IsValid() {
		return s
	}

	next := s
	ease := math.Max(p.MinEase, s.EaseFactor)
	interval := max(0, s.IntervalDays)

	switch grade {
	case domain.Again:
		next.Repetitions = 0
		next.IntervalDays = 0
		next.EaseFactor = p.clampEase(ease - p.AgainPenalty)
	case domain.Hard:
		next.Repetitions = s.Repetitions + 1
		next.IntervalDays = max(1, round(float64(interval)*p.HardMultiplier))
		next.EaseFactor = p.clampEase(ease - p.HardPenalty)
	case domain.Good:
		next.Repetitions = s.Repetitions + 1
		next.IntervalDays = round(p.grow(interval, ease))
		next.EaseFactor = ease
	case domain.Easy:
		next.Repetitions = s.Repetitions + 1
		next.IntervalDays = round(p.grow(interval, ease) * p.EasyMultiplier)
		next.EaseFactor = p.clampEase(ease + p.EasyBonus)
	}

	if next.Repetitions < 0 {
		next.Repetitions = 0
	}
	reviewed := now
	next.LastReviewedAt = &reviewed
	next.DueAt = NextDueDate(now, next.IntervalDays)
	return next
}

// grow is the SM-2 interval step: a fresh card graduates to one day, any
// other card multiplies its interval by the ease factor.
func (p *Params) grow(interval int, ease float64) float64 {
	if interval == 0 {
		return 1
	}
	return float64(interval) * ease
}

func (p *Params) clampEase(ease float64) float64 {
	if p.MaxEase > 0 && ease > p.MaxEase {
		ease = p.MaxEase
	}
	return math.Max(p.MinEase, ease)
}

// NextDueDate is the moment a card scheduled intervalDays from now becomes due.
func NextDueDate(now time.Time, intervalDays int) time.Time {
	return now.Add(time.Duration(intervalDays) * day)
}

// IsDue reports whether the card should be reviewed at now.
func IsDue(s domain.ReviewState, now time.Time) bool {
	return !s.DueAt.After(now)
}

// Overdue is how long past its due date the card is at now. It is negative
// for cards that are not due yet.
func Overdue(s domain.ReviewState, now time.Time) time.Duration {
	return now.Sub(s.DueAt)
}

func round(v float64) int {
	return int(math.Round(v))
}
