package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/linguaflow/lingua-core/internal/config"
	"github.com/linguaflow/lingua-core/internal/session"
)

// Profile is the learner's saved language settings.
type Profile struct {
	Language string `json:"language"`
	Level    string `json:"level,omitempty"`
	Topic    string `json:"topic,omitempty"`
}

type sessionStatus struct {
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type volumeStatus struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

type phraseRequest struct {
	Text string `json:"text"`
}

func (r *Runtime) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/session/connect", r.handleConnect)
	mux.HandleFunc("POST /v1/session/disconnect", r.handleDisconnect)
	mux.HandleFunc("GET /v1/session", r.handleSessionStatus)
	mux.HandleFunc("GET /v1/transcript", r.handleTranscript)
	mux.HandleFunc("DELETE /v1/transcript", r.handleClearTranscript)
	mux.HandleFunc("GET /v1/volume", r.handleVolume)
	mux.HandleFunc("GET /v1/profile", r.handleGetProfile)
	mux.HandleFunc("PUT /v1/profile", r.handlePutProfile)
	mux.HandleFunc("GET /v1/notebook", r.handleListPhrases)
	mux.HandleFunc("POST /v1/notebook", r.handleSavePhrase)
	mux.HandleFunc("DELETE /v1/notebook", r.handleRemovePhrase)
}

func (r *Runtime) handleConnect(w http.ResponseWriter, req *http.Request) {
	if err := r.manager.Connect(req.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, session.ErrPermission) {
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, sessionStatus{
			State: string(r.manager.State()),
			Error: err.Error(),
		}, r.logger)
		return
	}
	writeJSON(w, http.StatusOK, sessionStatus{
		State:     string(r.manager.State()),
		SessionID: r.manager.SessionID(),
	}, r.logger)
}

func (r *Runtime) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	r.manager.Disconnect()
	writeJSON(w, http.StatusOK, sessionStatus{State: string(r.manager.State())}, r.logger)
}

func (r *Runtime) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	status := sessionStatus{
		State:     string(r.manager.State()),
		SessionID: r.manager.SessionID(),
	}
	if err := r.manager.Err(); err != nil {
		status.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, status, r.logger)
}

func (r *Runtime) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"entries": r.tlog.Entries()}, r.logger)
}

func (r *Runtime) handleClearTranscript(w http.ResponseWriter, req *http.Request) {
	r.tlog.Clear()
	if sessionID := r.manager.SessionID(); sessionID != "" {
		if err := r.db.ClearEntries(req.Context(), sessionID); err != nil {
			r.logger.Warn("transcript history clear failed", slog.String("error", err.Error()))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleVolume(w http.ResponseWriter, _ *http.Request) {
	input, output := r.estimator.Levels()
	writeJSON(w, http.StatusOK, volumeStatus{Input: input, Output: output}, r.logger)
}

func (r *Runtime) handleGetProfile(w http.ResponseWriter, _ *http.Request) {
	p := r.manager.Practice()
	writeJSON(w, http.StatusOK, Profile{Language: p.Language, Level: p.Level, Topic: p.Topic}, r.logger)
}

func (r *Runtime) handlePutProfile(w http.ResponseWriter, req *http.Request) {
	var p Profile
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil || p.Language == "" {
		http.Error(w, "invalid profile", http.StatusBadRequest)
		return
	}
	practice := config.PracticeConfig{Language: p.Language, Level: p.Level, Topic: p.Topic}
	if practice.Level == "" {
		practice.Level = r.cfg.Practice.Level
	}
	if practice.Topic == "" {
		practice.Topic = r.cfg.Practice.Topic
	}
	r.manager.SetPractice(practice)

	payload, err := json.Marshal(p)
	if err == nil {
		err = r.db.SaveProfile(req.Context(), payload)
	}
	if err != nil {
		r.logger.Warn("profile save failed", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, p, r.logger)
}

func (r *Runtime) handleListPhrases(w http.ResponseWriter, req *http.Request) {
	phrases, err := r.db.ListPhrases(req.Context())
	if err != nil {
		http.Error(w, "notebook unavailable", http.StatusInternalServerError)
		return
	}
	texts := make([]string, len(phrases))
	for i, p := range phrases {
		texts[i] = p.Text
	}
	writeJSON(w, http.StatusOK, map[string]any{"phrases": texts}, r.logger)
}

func (r *Runtime) handleSavePhrase(w http.ResponseWriter, req *http.Request) {
	var body phraseRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Text == "" {
		http.Error(w, "invalid phrase", http.StatusBadRequest)
		return
	}
	if err := r.db.SavePhrase(req.Context(), body.Text); err != nil {
		http.Error(w, "notebook unavailable", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleRemovePhrase(w http.ResponseWriter, req *http.Request) {
	var body phraseRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Text == "" {
		http.Error(w, "invalid phrase", http.StatusBadRequest)
		return
	}
	if err := r.db.RemovePhrase(req.Context(), body.Text); err != nil {
		http.Error(w, "notebook unavailable", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("response encode failed", slog.String("error", err.Error()))
	}
}
