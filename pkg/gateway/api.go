package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MinchaoZhu/chaos-bot/internal/logger"
	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/MinchaoZhu/chaos-bot/pkg/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Now: time.Now().UTC()})
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ConnectedClients())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	created, err := s.sessions.Create(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	log := requestLogger(r.Context(), s.logger)
	log.Info().Str("session_id", created.ID).Msg("API create session")
	writeJSON(w, http.StatusOK, created)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*session.State{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	found, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	log := requestLogger(r.Context(), s.logger)
	log.Info().Str("session_id", id).Msg("API delete session")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	list, err := s.skills.List()
	if err != nil {
		writeError(w, Internal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	detail, err := s.skills.Get(r.PathValue("id"))
	if err != nil {
		// any lookup failure, including malformed ids, reads as missing
		writeError(w, NotFound("skill not found"))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) requireConfig(w http.ResponseWriter) bool {
	if s.config == nil {
		writeError(w, Unavailable("config runtime unavailable"))
		return false
	}
	return true
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfig(w) {
		return
	}
	state, err := s.config.State(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleResetConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfig(w) {
		return
	}
	if err := s.config.Reset(r.Context()); err != nil {
		s.configFailed(w, r, "reset", err)
		return
	}
	s.configMutated(w, r, "reset", false)
}

func (s *Server) handleApplyConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfig(w) {
		return
	}
	req, err := decodeConfigMutation(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	if (req.Raw == nil) == (req.Config == nil) {
		writeError(w, BadRequest("exactly one of raw/config must be set"))
		return
	}

	s.auditConfigPayload(r, "apply", req)
	if err := s.config.Apply(r.Context(), req.Raw, req.Config); err != nil {
		s.configFailed(w, r, "apply", err)
		return
	}
	s.configMutated(w, r, "apply", false)
}

// handleRestartConfig applies an optional payload, then asks the process to
// restart. An empty body only requests the restart.
func (s *Server) handleRestartConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfig(w) {
		return
	}
	req, err := decodeConfigMutation(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Raw != nil && req.Config != nil {
		writeError(w, BadRequest("raw/config payload shape is invalid"))
		return
	}

	if req.Raw != nil || req.Config != nil {
		s.auditConfigPayload(r, "restart", req)
		if err := s.config.Apply(r.Context(), req.Raw, req.Config); err != nil {
			s.configFailed(w, r, "restart", err)
			return
		}
	}

	scheduled, err := s.config.RequestRestart(r.Context())
	if err != nil {
		s.configFailed(w, r, "restart", err)
		return
	}
	s.configMutated(w, r, "restart", scheduled)
}

func decodeConfigMutation(body io.Reader) (ConfigMutationRequest, error) {
	var req ConfigMutationRequest
	err := json.NewDecoder(io.LimitReader(body, maxRequestBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return req, BadRequest("invalid config mutation request: " + err.Error())
	}
	return req, nil
}

func (s *Server) auditConfigPayload(r *http.Request, action string, req ConfigMutationRequest) {
	var payload json.RawMessage
	if req.Raw != nil {
		payload = logger.RedactJSON([]byte(*req.Raw))
	} else {
		encoded, _ := json.Marshal(req.Config)
		payload = logger.RedactJSON(encoded)
	}
	log := requestLogger(r.Context(), s.logger)
	log.Info().
		Str("action", action).
		RawJSON("payload", payload).
		Msg("Config mutation audit")
}

func (s *Server) configFailed(w http.ResponseWriter, r *http.Request, action string, err error) {
	log := requestLogger(r.Context(), s.logger)
	log.Warn().Err(err).Str("action", action).Msg("Config endpoint failed")
	apiErr := ToAPIError(err)
	if apiErr.Code == CodeInternal {
		apiErr = Internal("config " + action + " failed: " + err.Error())
	}
	writeError(w, apiErr)
}

func (s *Server) configMutated(w http.ResponseWriter, r *http.Request, action string, restart bool) {
	state, err := s.config.State(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	observability.RecordConfigAudit(r.Context(), action, state.Version)
	s.Broadcast("config."+action, map[string]any{
		"version":           state.Version,
		"restart_scheduled": restart,
	})

	writeJSON(w, http.StatusOK, ConfigMutationResponse{
		OK:               true,
		Action:           action,
		RestartScheduled: restart,
		State:            state,
	})
}
