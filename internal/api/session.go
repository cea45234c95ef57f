package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/mqtt-session/internal/journal"
	"github.com/nerrad567/mqtt-session/internal/session"
)

// SessionResponse describes the session in GET /session.
type SessionResponse struct {
	ClientID      string   `json:"client_id"`
	State         string   `json:"state"`
	Broker        string   `json:"broker,omitempty"`
	Subscriptions []string `json:"subscriptions"`
	LastError     string   `json:"last_error,omitempty"`
}

// SubscribeRequest is the body of POST /session/subscriptions.
type SubscribeRequest struct {
	Topic string `json:"topic"`
}

// PublishRequest is the body of POST /session/publish.
type PublishRequest struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	resp := SessionResponse{
		ClientID:      s.session.ClientID(),
		State:         s.session.State().String(),
		Subscriptions: s.session.Subscriptions(),
	}
	if ep := s.session.Endpoint(); ep.Host != "" {
		resp.Broker = ep.String()
	}
	if err := s.session.Err(); err != nil {
		resp.LastError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	topics := s.session.Subscriptions()
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": topics,
		"count":         len(topics),
	})
}

// handleSubscribe adds a subscription. It answers 201 for a new topic and
// 200 when the topic was already subscribed.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	status := http.StatusCreated
	if s.session.HasSubscription(req.Topic) {
		status = http.StatusOK
	}

	if err := s.session.Subscribe(req.Topic); err != nil {
		if errors.Is(err, session.ErrInvalidTopic) {
			writeBadRequest(w, "topic is required")
			return
		}
		writeInternalError(w, "subscribe failed")
		return
	}

	writeJSON(w, status, map[string]any{
		"topic": req.Topic,
		"state": s.session.State().String(),
	})
}

// handlePublish publishes a payload. Publishing while disconnected is a
// conflict because the session drops the message.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeBadRequest(w, "topic is required")
		return
	}
	if s.session.State() != session.StateConnected {
		writeConflict(w, "session is not connected")
		return
	}

	s.session.Publish(req.Topic, req.Payload)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"topic": req.Topic,
		"bytes": len(req.Payload),
	})
}

func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Kind:     q.Get("kind"),
		ClientID: q.Get("client_id"),
		Topic:    q.Get("topic"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeInternalError(w, "journal query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// intParam parses an optional integer query parameter; empty means zero.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
