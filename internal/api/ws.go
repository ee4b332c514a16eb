package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/session"
	"github.com/MrWong99/cuecard/pkg/interview"
)

// Message types on the WebSocket feed.
const (
	MsgSnapshot   = "snapshot"
	MsgChange     = "change"
	MsgError      = "error"
	MsgTranscript = "transcript"
)

// ServerMessage is sent from the server to a WebSocket client. The first
// message on every connection, and after every resynchronization, is a
// snapshot; change messages follow in store mutation order.
type ServerMessage struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Change   *session.Change   `json:"change,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ClientMessage is sent from a WebSocket client. Type "transcript" carries a
// transcript entry that is ingested like POST /api/transcripts.
type ClientMessage struct {
	Type      string            `json:"type"`
	ID        string            `json:"id,omitempty"`
	Speaker   interview.Speaker `json:"speaker,omitempty"`
	Text      string            `json:"text"`
	Timestamp int64             `json:"timestamp,omitempty"`
}

func (m ClientMessage) entry() interview.TranscriptEntry {
	return interview.TranscriptEntry{ID: m.ID, Speaker: m.Speaker, Text: m.Text, Timestamp: m.Timestamp}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		observe.Logger(r.Context()).Debug("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.metrics.WSClients.Add(ctx, 1)
	defer s.metrics.WSClients.Add(context.WithoutCancel(ctx), -1)

	go s.readLoop(ctx, cancel, conn)

	err = s.writeLoop(ctx, conn)
	if err != nil && !errors.Is(err, context.Canceled) {
		observe.Logger(ctx).Debug("api: websocket closed", "err", err)
		conn.Close(websocket.StatusInternalError, "write failed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// writeLoop streams the store to conn until ctx ends. A subscription the
// store dropped for lagging is replaced by a fresh one, starting again with
// a snapshot.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		snap, changes, unsubscribe := s.store.Subscribe()
		if err := s.send(ctx, conn, ServerMessage{Type: MsgSnapshot, Snapshot: &snap}); err != nil {
			unsubscribe()
			return err
		}

		dropped, err := s.forward(ctx, conn, changes)
		unsubscribe()
		if err != nil || !dropped {
			return err
		}
		observe.Logger(ctx).Warn("api: websocket client fell behind, resynchronizing")
	}
}

// forward relays changes until ctx ends, a write fails, or the store closes
// the channel (dropped is true).
func (s *Server) forward(ctx context.Context, conn *websocket.Conn, changes <-chan session.Change) (dropped bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case c, ok := <-changes:
			if !ok {
				return true, nil
			}
			if err := s.send(ctx, conn, ServerMessage{Type: MsgChange, Change: &c}); err != nil {
				return false, err
			}
		}
	}
}

// readLoop handles client messages and cancels ctx when the connection ends.
func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	log := observe.Logger(ctx)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Debug("api: websocket read ended", "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			s.sendError(ctx, conn, "binary messages are not supported")
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(ctx, conn, "invalid JSON message")
			continue
		}

		switch msg.Type {
		case MsgTranscript:
			if _, err := s.ingester.Ingest(ctx, msg.entry()); err != nil {
				if !isInputError(err) {
					log.Error("api: websocket ingest failed", "err", err)
				}
				s.sendError(ctx, conn, err.Error())
			}
		default:
			s.sendError(ctx, conn, fmt.Sprintf("unknown message type %q", msg.Type))
		}
	}
}

func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, msg string) {
	if err := s.send(ctx, conn, ServerMessage{Type: MsgError, Error: msg}); err != nil {
		observe.Logger(ctx).Debug("api: websocket error reply failed", "err", err)
	}
}

// send writes one JSON text message with the configured write timeout.
func (s *Server) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("api: marshal %s message: %w", msg.Type, err)
	}
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("api: write %s message: %w", msg.Type, err)
	}
	return nil
}
