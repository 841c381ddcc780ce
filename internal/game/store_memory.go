package game

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/conorfennell/cardcrawl/internal/combat"
	"github.com/conorfennell/cardcrawl/internal/domain"
)

// MemoryStore is an in-process Store. Game states are kept as JSON so that
// callers never share memory with the store, as with a real database.
type MemoryStore struct {
	mu       sync.Mutex
	nextCard int64
	cards    []domain.Card
	states   map[int64]domain.ReviewState
	events   []domain.ReviewEvent
	active   map[int64][]byte
	saves    map[int64]map[string]savedGame
	runs     []RunRecord
	now      func() time.Time
}

type savedGame struct {
	data    []byte
	savedAt time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: map[int64]domain.ReviewState{},
		active: map[int64][]byte{},
		saves:  map[int64]map[string]savedGame{},
		now:    time.Now,
	}
}

// AddCard inserts a card with a fresh review state due at now and returns
// it with its assigned id.
func (m *MemoryStore) AddCard(deckID int64, front, back string, now time.Time) domain.Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCard++
	c := domain.Card{ID: m.nextCard, DeckID: deckID, Front: front, Back: back, NoteType: "Basic"}
	m.cards = append(m.cards, c)
	m.states[c.ID] = domain.NewReviewState(c.ID, now)
	return c
}

// RemoveCard deletes a card and its review state.
func (m *MemoryStore) RemoveCard(cardID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards = slices.DeleteFunc(m.cards, func(c domain.Card) bool { return c.ID == cardID })
	delete(m.states, cardID)
}

// Events returns the review log.
func (m *MemoryStore) Events() []domain.ReviewEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

// Runs returns the archived runs.
func (m *MemoryStore) Runs() []RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.runs)
}

func (m *MemoryStore) GetCard(ctx context.Context, cardID int64) (domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cards {
		if c.ID == cardID {
			return c, nil
		}
	}
	return domain.Card{}, fmt.Errorf("card %d: %w", cardID, domain.ErrNotFound)
}

func (m *MemoryStore) ListCards(ctx context.Context, deckID int64) ([]domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Card
	for _, c := range m.cards {
		if c.DeckID == deckID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListReviewStates(ctx context.Context, deckID int64) ([]domain.ReviewState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReviewState
	for _, c := range m.cards {
		if s, ok := m.states[c.ID]; ok && c.DeckID == deckID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetReviewState(ctx context.Context, cardID int64) (domain.ReviewState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[cardID]
	if !ok {
		return domain.ReviewState{}, fmt.Errorf("review state for card %d: %w", cardID, domain.ErrNotFound)
	}
	return s, nil
}

func (m *MemoryStore) PutReviewState(ctx context.Context, state domain.ReviewState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.CardID] = state
	return nil
}

func (m *MemoryStore) AppendReviewEvent(ctx context.Context, event domain.ReviewEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStore) GetGameState(ctx context.Context, deckID int64) (*combat.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.active[deckID]
	if !ok {
		return nil, nil
	}
	return decodeState(data)
}

func (m *MemoryStore) PutGameState(ctx context.Context, deckID int64, gs *combat.GameState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gs == nil {
		delete(m.active, deckID)
		return nil
	}
	data, err := json.Marshal(gs)
	if err != nil {
		return err
	}
	m.active[deckID] = data
	return nil
}

func (m *MemoryStore) PutSave(ctx context.Context, deckID int64, name string, gs *combat.GameState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := json.Marshal(gs)
	if err != nil {
		return err
	}
	if m.saves[deckID] == nil {
		m.saves[deckID] = map[string]savedGame{}
	}
	m.saves[deckID][name] = savedGame{data: data, savedAt: m.now()}
	return nil
}

func (m *MemoryStore) GetSave(ctx context.Context, deckID int64, name string) (*combat.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.saves[deckID][name]
	if !ok {
		return nil, fmt.Errorf("save %q: %w", name, domain.ErrNotFound)
	}
	return decodeState(s.data)
}

func (m *MemoryStore) ListSaves(ctx context.Context, deckID int64) ([]SaveInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SaveInfo
	for name, s := range m.saves[deckID] {
		gs, err := decodeState(s.data)
		if err != nil {
			return nil, err
		}
		out = append(out, SaveInfo{
			DeckID:           deckID,
			Name:             name,
			Score:            gs.Player.Score,
			CurrentEncounter: gs.Progress.CurrentEncounter,
			SavedAt:          s.savedAt,
		})
	}
	slices.SortFunc(out, func(a, b SaveInfo) int { return b.SavedAt.Compare(a.SavedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteSave(ctx context.Context, deckID int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.saves[deckID][name]; !ok {
		return fmt.Errorf("save %q: %w", name, domain.ErrNotFound)
	}
	delete(m.saves[deckID], name)
	return nil
}

func (m *MemoryStore) ArchiveRun(ctx context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, rec)
	return nil
}

func decodeState(data []byte) (*combat.GameState, error) {
	var gs combat.GameState
	if err := json.Unmarshal(data, &gs); err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}
	return &gs, nil
}
