package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/nodemesh/streamgate/internal/authority"
	"github.com/nodemesh/streamgate/internal/errors"
	"github.com/nodemesh/streamgate/internal/publish"
	"github.com/nodemesh/streamgate/internal/stream"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	streamName := mux.Vars(r)["stream"]
	if !stream.ValidName(streamName) {
		writeError(w, http.StatusBadRequest, errors.Protocol("invalid stream name"))
		return
	}

	users, err := s.deps.Registry.OnlineUsers(r.Context(), streamName)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stream": streamName,
		"users":  users,
	})
}

func (s *Server) handlePresenceSnapshot(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(r)
	if principal == nil || !principal.Admin {
		writeError(w, http.StatusForbidden, errors.PermissionDenied("admin session required"))
		return
	}

	snap, err := s.deps.Registry.TakeSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// publishRequest is the producer-facing ingress payload.
type publishRequest struct {
	Stream     string                 `json:"stream"`
	ObjectID   interface{}            `json:"objectId,omitempty"`
	ObjectType string                 `json:"objectType"`
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
	Persist    *bool                  `json:"persist,omitempty"`
	TTLSeconds int64                  `json:"ttlSeconds,omitempty"`
}

// handlePublish lets authenticated producers push events over HTTP. Only
// admin sessions may publish; domain services hold service credentials
// minted by the same session issuer.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	principal := s.requirePrincipal(r)
	if principal == nil || !principal.Admin {
		writeError(w, http.StatusForbidden, errors.PermissionDenied("producer session required"))
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Protocol("malformed publish request"))
		return
	}
	if !stream.ValidName(req.Stream) || req.ObjectType == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, errors.Protocol("stream, objectType and type are required"))
		return
	}

	opts := publish.DefaultOptions()
	if req.Persist != nil {
		opts.Persist = *req.Persist
	}
	if req.TTLSeconds > 0 {
		opts.TTL = time.Duration(req.TTLSeconds) * time.Second
	}

	event := stream.Event{
		ObjectID:   req.ObjectID,
		ObjectType: req.ObjectType,
		Type:       req.Type,
		Extra:      req.Extra,
	}
	if req.Data != nil {
		event.Data = req.Data
	}

	published, err := s.deps.Publisher.Publish(r.Context(), req.Stream, event, opts)
	if err != nil {
		if errors.IsTransient(err) {
			writeError(w, http.StatusServiceUnavailable, err)
		} else {
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, published.WireValue())
}

// requirePrincipal resolves the request's session from the Authorization
// bearer token or the session cookie. Resolution here is synchronous; the
// REST surface is not the connection accept path.
func (s *Server) requirePrincipal(r *http.Request) *authority.Principal {
	if s.deps.Resolver == nil {
		return nil
	}

	sessionKey := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		sessionKey = strings.TrimPrefix(header, "Bearer ")
	} else if cookie, err := r.Cookie(sessionCookie); err == nil {
		sessionKey = cookie.Value
	}
	if sessionKey == "" {
		return nil
	}

	principal, err := s.deps.Resolver.Resolve(r.Context(), sessionKey)
	if err != nil {
		s.logger.WithError(err).Warn("session resolution failed on http surface")
		return nil
	}
	return principal
}
