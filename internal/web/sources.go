package web

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/conorfennell/cardcrawl/internal/gitsource"
	"github.com/conorfennell/cardcrawl/internal/storage"
	"github.com/conorfennell/cardcrawl/internal/sync"
)

type sourceRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleGetSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := s.db.GetAllSources(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sources)
	}
}

// handlePostSource registers a local directory or a Git URL.
func (s *Server) handlePostSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sourceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		path := strings.TrimSpace(req.Path)
		if path == "" {
			s.writeError(w, r, fmt.Errorf("%w: path cannot be empty", domain.ErrValidation))
			return
		}

		typ := storage.SourceLocal
		if gitsource.IsRepoURL(path) {
			typ = storage.SourceGit
		} else {
			abs, err := filepath.Abs(path)
			if err != nil {
				s.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrValidation, err))
				return
			}
			if info, err := os.Stat(abs); err != nil || !info.IsDir() {
				s.writeError(w, r, fmt.Errorf("%w: %s is not a directory", domain.ErrValidation, path))
				return
			}
			path = abs
		}

		if _, err := s.db.FindSourceByPath(r.Context(), path); err == nil {
			s.writeError(w, r, fmt.Errorf("source %s already exists: %w", path, domain.ErrInvalidState))
			return
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, r, err)
			return
		}

		id, err := s.db.InsertSource(r.Context(), path, typ)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.log.Info("source added", "source_id", id, "path", path, "type", typ)
		writeJSON(w, http.StatusCreated, storage.Source{ID: id, Path: path, Type: typ})
	}
}

func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "source")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.db.DeleteSource(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePostSync runs a sync in the foreground and reports per source.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := s.syncer.RunSync(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if reports == nil {
			reports = []sync.SourceReport{}
		}
		writeJSON(w, http.StatusOK, reports)
	}
}
