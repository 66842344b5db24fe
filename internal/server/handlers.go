package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/wardenhq/llm-warden/internal/events"
	"github.com/wardenhq/llm-warden/internal/pipeline"
	"github.com/wardenhq/llm-warden/internal/ruleset"
	"go.uber.org/zap"
)

// analyzeRequest is the body of POST /v1/analyze and /v1/completions
type analyzeRequest struct {
	Text   string `json:"text"`
	Prompt string `json:"prompt"` // alias accepted on /v1/completions
	Scope  struct {
		Country  string `json:"country"`
		Language string `json:"language"`
		Domain   string `json:"domain"`
	} `json:"scope"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (r analyzeRequest) scope() ruleset.Scope {
	return ruleset.Scope{
		Country:  r.Scope.Country,
		Language: r.Scope.Language,
		Domain:   r.Scope.Domain,
	}
}

// handleAnalyze runs the inbound pipeline without forwarding to the model
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}

	start := time.Now()
	result, err := s.pipeline.Analyze(r.Context(), pipeline.Request{
		Text:          req.Text,
		Scope:         req.scope(),
		CorrelationID: correlationID(r.Context()),
	})
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	s.observe(result, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

// handleCompletions runs the full pipeline including the model forward
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	text := req.Text
	if text == "" {
		text = req.Prompt
	}
	if text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "prompt is required"})
		return
	}

	start := time.Now()
	result, err := s.pipeline.Complete(r.Context(), pipeline.Request{
		Text:          text,
		Scope:         req.scope(),
		CorrelationID: correlationID(r.Context()),
	})
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	s.observe(result, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrNoRuleset) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}
	s.logger.Error("Pipeline failure", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// observe records metrics and broadcasts the decision event
func (s *Server) observe(result *pipeline.Result, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.Decisions.WithLabelValues(string(result.Decision.Outcome)).Inc()
		for _, span := range result.Spans {
			s.metrics.RuleMatches.WithLabelValues(span.RuleID).Inc()
		}
		s.metrics.Duration.Observe(elapsed.Seconds())
	}

	if s.hub != nil {
		s.hub.Broadcast(events.Event{
			Type:          events.EventTypeDecision,
			Timestamp:     time.Now(),
			CorrelationID: result.CorrelationID,
			Data: events.DecisionEvent{
				CorrelationID:  result.CorrelationID,
				Fingerprint:    result.Audit.Fingerprint,
				Outcome:        string(result.Decision.Outcome),
				Stage:          string(result.Stage),
				RuleIDs:        result.Audit.RuleIDs,
				Reasons:        result.Audit.Reasons,
				RulesetVersion: result.RulesetVersion,
				Scope:          result.Audit.Scope,
				ProcessingMS:   float64(elapsed.Microseconds()) / 1000.0,
			},
		})
	}
}

// scopeInfo describes one active ruleset snapshot
type scopeInfo struct {
	Scope       string    `json:"scope"`
	Version     string    `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
	Rules       int       `json:"rules"`
	Categories  int       `json:"categories"`
}

// handleRules lists the active ruleset snapshots by scope
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	scopes := s.registry.Scopes()
	infos := make([]scopeInfo, 0, len(scopes))
	for _, key := range scopes {
		rs, ok := s.registry.CurrentByKey(key)
		if !ok {
			continue
		}
		infos = append(infos, scopeInfo{
			Scope:       key,
			Version:     rs.Version,
			LastUpdated: rs.LastUpdated,
			Rules:       len(rs.Rules),
			Categories:  len(rs.Categories),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rulesets": infos})
}

// handleReload re-reads all ruleset files from disk
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "reload not configured"})
		return
	}

	if err := s.reloader.Reload(); err != nil {
		s.logger.Error("Ruleset reload failed", zap.Error(err))
		if s.hub != nil {
			s.hub.Broadcast(events.Event{
				Type:      events.EventTypeReload,
				Timestamp: time.Now(),
				Data:      events.ReloadEvent{Err: err.Error()},
			})
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	scopes := s.registry.Scopes()
	if s.hub != nil {
		s.hub.Broadcast(events.Event{
			Type:      events.EventTypeReload,
			Timestamp: time.Now(),
			Data:      events.ReloadEvent{Scopes: scopes, RuleSets: len(scopes)},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reloaded": true, "scopes": scopes})
}
