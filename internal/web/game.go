package web

import (
	"net/http"

	"github.com/conorfennell/cardcrawl/internal/combat"
	"github.com/conorfennell/cardcrawl/internal/domain"
)

type gradeRequest struct {
	Grade string `json:"grade"`
}

type powerupRequest struct {
	Powerup string `json:"powerup"`
}

type saveRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleStartGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deckID, err := s.deckID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		snap, err := s.game.Start(r.Context(), deckID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, snap)
	}
}

func (s *Server) handleGameStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deckID, err := s.deckID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		snap, err := s.game.Status(r.Context(), deckID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) handleAbandonGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deckID, err := s.deckID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		rec, err := s.game.Abandon(r.Context(), deckID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleReveal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deckID, err := s.deckID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		snap, err := s.game.Reveal(r.Context(), deckID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// handleAnswer grades the revealed card and resolves the combat turn.
func (s *Server) handleAnswer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deckID, err := s.deckID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req gradeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		grade, err := domain.ParseGrade(req.Grade)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out, err := s.game.SubmitGrade(r.Context(), deckID, grade)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handlePowerup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deckID, err := s.deckID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req powerupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		snap, err := s.game.UsePowerup(r.Context(), deckID, combat.PowerupID(req.Powerup))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) handleSave() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deckID, err := s.deckID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req saveRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.game.Save(r.Context(), deckID, req.Name); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
	}
}

func (s *Server) handleLoad() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deckID, err := s.deckID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req saveRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		snap, err := s.game.Load(r.Context(), deckID, req.Name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) handleListSaves() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deckID, err := s.deckID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		saves, err := s.game.Saves(r.Context(), deckID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, saves)
	}
}

func (s *Server) handleDeleteSave() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deckID, err := s.deckID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.game.DeleteSave(r.Context(), deckID, r.PathValue("name")); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
