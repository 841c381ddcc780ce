package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/conorfennell/cardcrawl/internal/aigen"
	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/conorfennell/cardcrawl/internal/parser"
)

type importResponse struct {
	Deck      domain.Deck  `json:"deck"`
	Imported  int          `json:"imported"`
	Stats     parser.Stats `json:"stats"`
	RowErrors []string     `json:"row_errors"`
	Warnings  []string     `json:"warnings"`
}

type deckResponse struct {
	Deck  domain.Deck   `json:"deck"`
	Cards []domain.Card `json:"cards"`
}

func (s *Server) handleListDecks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decks, err := s.db.ListDecks(r.Context(), s.now())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, decks)
	}
}

func (s *Server) handleGetDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "deck")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		deck, err := s.db.GetDeck(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		cards, err := s.db.ListCards(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, deckResponse{Deck: deck, Cards: cards})
	}
}

func (s *Server) handleDeleteDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "deck")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.db.DeleteDeck(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.log.Info("deck deleted", "deck_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeckStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "deck")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		stats, err := s.db.DeckStats(r.Context(), id, s.now())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// handleImportDeck creates a deck from an uploaded CSV file. Rows that fail
// to parse are reported but do not stop the import.
func (s *Server) handleImportDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > s.maxUpload {
			s.writeError(w, r, &http.MaxBytesError{Limit: s.maxUpload})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
		if err := r.ParseMultipartForm(s.maxUpload); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				s.writeError(w, r, err)
				return
			}
			s.writeError(w, r, fmt.Errorf("%w: invalid upload: %v", domain.ErrValidation, err))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: missing file field", domain.ErrValidation))
			return
		}
		defer file.Close()

		res, err := parser.ParseCSV(file)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		name := strings.TrimSpace(r.FormValue("name"))
		if name == "" {
			name = parser.DeckName(header.Filename)
		}
		deck, n, err := s.createDeck(r.Context(), name, res.Cards)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.log.Info("deck imported", "deck_id", deck.ID, "name", deck.Name, "cards", n, "row_errors", len(res.Errors))

		writeJSON(w, http.StatusCreated, importResponse{
			Deck:     deck,
			Imported: n,
			Stats:    res.Stats(),
			RowErrors: lo.Map(res.Errors, func(e *parser.RowError, _ int) string {
				return e.Error()
			}),
			Warnings: lo.Ternary(res.Warnings == nil, []string{}, res.Warnings),
		})
	}
}

type generateRequest struct {
	Name  string `json:"name"`
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// handleGenerateDeck creates a deck of AI-written questions from text.
func (s *Server) handleGenerateDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.gen.Enabled() {
			s.writeError(w, r, aigen.ErrDisabled)
			return
		}
		if !s.limiter.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "5")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}

		var req generateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			s.writeError(w, r, fmt.Errorf("%w: deck name is required", domain.ErrValidation))
			return
		}
		if req.Count == 0 {
			req.Count = 10
		}

		questions, err := s.gen.Generate(r.Context(), req.Text, req.Count)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		cards := lo.Map(questions, func(q aigen.Question, _ int) domain.Card { return q.Card() })
		deck, n, err := s.createDeck(r.Context(), name, cards)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.log.Info("deck generated", "deck_id", deck.ID, "name", deck.Name, "cards", n)
		writeJSON(w, http.StatusCreated, importResponse{
			Deck:      deck,
			Imported:  n,
			RowErrors: []string{},
			Warnings:  []string{},
		})
	}
}

// createDeck stores a new deck with its cards. The deck is removed again if
// the cards cannot be written.
func (s *Server) createDeck(ctx context.Context, name string, cards []domain.Card) (domain.Deck, int, error) {
	deck, err := s.db.CreateDeck(ctx, name, "")
	if err != nil {
		return domain.Deck{}, 0, err
	}
	for i := range cards {
		cards[i].DeckID = deck.ID
	}
	n, err := s.db.InsertCards(ctx, cards, s.now())
	if err != nil {
		if delErr := s.db.DeleteDeck(ctx, deck.ID); delErr != nil {
			s.log.Error("failed to remove partial deck", "deck_id", deck.ID, "error", delErr)
		}
		return domain.Deck{}, 0, err
	}
	return deck, n, nil
}
