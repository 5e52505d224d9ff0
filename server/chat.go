package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"itembay/market"
	"itembay/models"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPollInterval = 2 * time.Second
	wsCursorLayout = time.RFC3339Nano
)

// GetChat returns the conversation for a transaction. Reading the chat marks
// the caller's pending messages as read.
func (s *Server) GetChat(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, market.Invalid("invalid transaction id", nil))
		return
	}

	chat, err := s.engine.GetChat(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chat)
}

// PostMessage appends a message to the transaction's chat.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, market.Invalid("invalid transaction id", nil))
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	message, err := s.engine.PostMessage(r.Context(), actor, id, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, message)
}

// StreamChat upgrades to a websocket and pushes new chat messages as they
// arrive. The optional cursor query parameter (RFC3339) resumes a stream
// without replaying messages the client already holds.
func (s *Server) StreamChat(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, market.Invalid("invalid transaction id", nil))
		return
	}

	since := time.Time{}
	if cursor := strings.TrimSpace(r.URL.Query().Get("cursor")); cursor != "" {
		parsed, err := time.Parse(wsCursorLayout, cursor)
		if err != nil {
			s.writeError(w, market.Invalid("invalid cursor", map[string]string{"cursor": "must be RFC3339"}))
			return
		}
		since = parsed
	}

	// Access is checked before the upgrade so denials surface as HTTP errors.
	if _, err := s.engine.GetTransaction(r.Context(), actor, id); err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	if err := s.streamMessages(r.Context(), conn, actor, id, since); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamMessages(ctx context.Context, conn *websocket.Conn, actor market.Actor, transactionID uuid.UUID, since time.Time) error {
	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	for {
		messages, err := s.engine.MessagesSince(ctx, actor, transactionID, since)
		if err != nil {
			return err
		}
		for i := range messages {
			if err := writeMessage(ctx, conn, &messages[i]); err != nil {
				return err
			}
			if messages[i].CreatedAt.After(since) {
				since = messages[i].CreatedAt
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, message *models.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
