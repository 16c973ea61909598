package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/amanullahtanweer/lecture-transcriber/internal/artifact"
	"github.com/amanullahtanweer/lecture-transcriber/internal/config"
	"github.com/amanullahtanweer/lecture-transcriber/internal/provider"
	"github.com/amanullahtanweer/lecture-transcriber/internal/store"
)

const (
	maxJSONBody   = 4 << 20
	maxUploadBody = 512 << 20
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Store.Keys(r.Context(), config.StoreNamespace); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("pong"))
}

func (s *Server) streamStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":      s.deps.State.State().String(),
		"session_id": s.deps.State.SessionID(),
		"transcript": s.deps.Stream.Transcript(),
		"partial":    s.deps.Stream.Partial(),
	})
}

func (s *Server) streamStart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": s.deps.Stream.StreamStart(r.Context())})
}

func (s *Server) streamStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": s.deps.Stream.StreamStop(r.Context())})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := store.LoadSettings(r.Context(), s.deps.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings.Redacted())
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var settings config.Settings
	if !decodeJSON(w, r, &settings) {
		return
	}
	prev, err := store.LoadSettings(r.Context(), s.deps.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	settings = settings.WithKeysFrom(prev)
	if err := store.SaveSettings(r.Context(), s.deps.Store, settings); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings.Redacted())
}

// guardSettings keeps the raw store endpoints away from the settings
// document, which holds provider keys.
func guardSettings(w http.ResponseWriter, r *http.Request) bool {
	if chi.URLParam(r, "ns") == config.StoreNamespace && chi.URLParam(r, "key") == config.SettingsKey {
		writeError(w, http.StatusForbidden, "settings are served at /api/v1/settings")
		return false
	}
	return true
}

func (s *Server) storeKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.deps.Store.Keys(r.Context(), chi.URLParam(r, "ns"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) storeGet(w http.ResponseWriter, r *http.Request) {
	if !guardSettings(w, r) {
		return
	}
	ns, key := chi.URLParam(r, "ns"), chi.URLParam(r, "key")
	value, ok, err := s.deps.Store.Get(r.Context(), ns, key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(value)
}

func (s *Server) storeSet(w http.ResponseWriter, r *http.Request) {
	if !guardSettings(w, r) {
		return
	}
	ns, key := chi.URLParam(r, "ns"), chi.URLParam(r, "key")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "value must be a JSON document")
		return
	}
	if err := s.deps.Store.Set(r.Context(), ns, key, body); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) storeDelete(w http.ResponseWriter, r *http.Request) {
	if !guardSettings(w, r) {
		return
	}
	if err := s.deps.Store.Delete(r.Context(), chi.URLParam(r, "ns"), chi.URLParam(r, "key")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transcribeRequest struct {
	Path string `json:"path"`
}

func (s *Server) transcribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	path, ok := s.recordingPath(req.Path)
	if !ok {
		writeError(w, http.StatusForbidden, "path is outside the recordings directory")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Providers.Transcribe(r.Context(), path))
}

// recordingPath resolves p against the recordings directory and reports
// whether it stays inside it.
func (s *Server) recordingPath(p string) (string, bool) {
	dir, err := filepath.Abs(s.recordingsDir)
	if err != nil {
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	rel, err := filepath.Rel(dir, filepath.Clean(p))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(dir, rel), true
}

type interactionRequest struct {
	System string `json:"system"`
	Human  string `json:"human"`
}

func (s *Server) interaction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Providers.Interaction(r.Context(), req.System, req.Human))
}

type llmRequest struct {
	Messages []provider.Message `json:"messages"`
	Provider string             `json:"provider,omitempty"`
	Model    string             `json:"model,omitempty"`
}

func (s *Server) llm(w http.ResponseWriter, r *http.Request) {
	var req llmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}

	var override *config.AIConfig
	if req.Provider != "" {
		settings, err := store.LoadSettings(r.Context(), s.deps.Store)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		acct, ok := settings.Provider(req.Provider)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown provider "+req.Provider)
			return
		}
		override = &acct
	}
	writeJSON(w, http.StatusOK, s.deps.Providers.Chat(r.Context(), req.Messages, override, req.Model))
}

func (s *Server) saveRecording(w http.ResponseWriter, r *http.Request) {
	path, err := artifact.SaveUpload(s.recordingsDir, r.URL.Query().Get("ext"), http.MaxBytesReader(w, r.Body, maxUploadBody))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, artifact.ErrInvalidExtension) {
			status = http.StatusBadRequest
		}
		s.log.Error().Err(err).Msg("Failed to save the file")
		writeError(w, status, err.Error())
		return
	}
	s.log.Info().Str("path", path).Msg("Recording uploaded")
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}
