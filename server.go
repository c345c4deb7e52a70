package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/remotedoc/gateway/auth"
	"github.com/remotedoc/gateway/docurl"
	"github.com/remotedoc/gateway/repopool"
	"github.com/remotedoc/gateway/repository"
)

// server exposes the tool surface of the gateway: list_doc and read_doc.
type server struct {
	pool *repopool.RepoPool
	log  *slog.Logger
}

type readDocRequest struct {
	URL string `json:"url"`
}

type readDocResponse struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/tools/list_doc", s.handleListDoc)
	mux.HandleFunc("POST /api/tools/read_doc", s.handleReadDoc)
}

// bearerKey extracts the bearer credential from the authorization
// header, scheme matching is case-insensitive.
func bearerKey(r *http.Request) (string, bool) {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}

func (s *server) handleListDoc(w http.ResponseWriter, r *http.Request) {
	key, ok := bearerKey(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{"missing or malformed bearer credential"})
		return
	}

	docs, err := s.pool.ListDocs(r.Context(), key)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidKey) {
			writeJSON(w, http.StatusForbidden, errorResponse{"invalid or unknown API key"})
			return
		}
		s.log.Error("list_doc failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{"unable to list docs"})
		return
	}

	writeJSON(w, http.StatusOK, docs)
}

func (s *server) handleReadDoc(w http.ResponseWriter, r *http.Request) {
	key, ok := bearerKey(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{"missing or malformed bearer credential"})
		return
	}

	var req readDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid request body"})
		return
	}

	path, err := docurl.Parse(req.URL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		return
	}

	content, err := s.pool.ReadDoc(r.Context(), path, key)
	switch {
	case err == nil:
	case errors.Is(err, repopool.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, errorResponse{"api key cannot access this repository"})
		return
	case errors.Is(err, repopool.ErrNotExist), errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{err.Error()})
		return
	default:
		s.log.Error("read_doc failed", "url", req.URL, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{"unable to read doc"})
		return
	}

	writeJSON(w, http.StatusOK, readDocResponse{URL: req.URL, Content: content})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// header is already written, encode errors can only be logged by callers
	_ = json.NewEncoder(w).Encode(v)
}
