package game

import (
	"time"

	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/conorfennell/cardcrawl/internal/sm2"
)

// SelectCard picks the next card to review. Cards must be in insertion
// order. The most overdue reviewed card wins; otherwise the first card never
// reviewed; otherwise the reviewed card that comes due soonest. Ties keep
// insertion order. It returns false only for an empty deck.
func SelectCard(cards []domain.Card, states []domain.ReviewState, now time.Time) (domain.Card, bool) {
	byCard := make(map[int64]domain.ReviewState, len(states))
	for _, s := range states {
		byCard[s.CardID] = s
	}

	overdue, unseen, upcoming := -1, -1, -1
	var mostOverdue time.Duration
	var soonest time.Time

	for i, c := range cards {
		s, ok := byCard[c.ID]
		if !ok || !s.Seen() {
			if unseen < 0 {
				unseen = i
			}
			continue
		}
		if sm2.IsDue(s, now) {
			if late := sm2.Overdue(s, now); overdue < 0 || late > mostOverdue {
				overdue, mostOverdue = i, late
			}
			continue
		}
		if upcoming < 0 || s.DueAt.Before(soonest) {
			upcoming, soonest = i, s.DueAt
		}
	}

	for _, i := range []int{overdue, unseen, upcoming} {
		if i >= 0 {
			return cards[i], true
		}
	}
	return domain.Card{}, false
}
