package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/ubermorgenland/mcp-bridge/pkg/catalog"
	"github.com/ubermorgenland/mcp-bridge/pkg/executor"
	"github.com/ubermorgenland/mcp-bridge/pkg/openapi"
)

const writeTimeout = 10 * time.Second

// Handler upgrades stream requests and runs the session protocol
// against one document's catalogs.
type Handler struct {
	doc  *openapi.Document
	cat  *catalog.Catalog
	exec *executor.Executor
	log  *log.Logger
}

func NewHandler(doc *openapi.Document, cat *catalog.Catalog, exec *executor.Executor, logger *log.Logger) *Handler {
	return &Handler{doc: doc, cat: cat, exec: exec, log: logger}
}

type progressEvent struct {
	Type    string `json:"type"`
	Percent int    `json:"percent"`
	Status  string `json:"status"`
}

type completeEvent struct {
	Type   string      `json:"type"`
	Model  string      `json:"model"`
	Output interface{} `json:"output"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Serve upgrades the request and runs one invocation to a terminal
// state. The socket always closes afterwards; sessions never hang
// half-open.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, token string) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s := &session{id: uuid.NewString(), conn: conn, h: h}
	s.run(r.Context(), token)
}

type session struct {
	id   string
	conn net.Conn
	h    *Handler

	mu sync.Mutex // serializes frame writes
}

func (s *session) run(parent context.Context, token string) {
	defer s.conn.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	inv, err := DecodeToken(token)
	if err != nil {
		s.h.log.Warn().Str("session", s.id).Err(err).Msg("stream token rejected")
		s.fail("Invalid task ID format")
		return
	}

	cancelled := make(chan struct{})
	go s.readLoop(cancel, cancelled)

	if inv.Model != "" {
		if _, ok := s.h.cat.ModelByID(inv.Model); !ok {
			s.fail("Model not found")
			return
		}
	} else if len(s.h.cat.Models) > 0 {
		inv.Model = s.h.cat.Models[0].ID
	}
	entry, ok := s.h.cat.Invocations[inv.Tool]
	if !ok {
		s.fail("Tool not found")
		return
	}
	method, path, ok := catalog.ParseInvocation(entry)
	if !ok {
		s.fail("Tool not found")
		return
	}

	host := ""
	if len(s.h.doc.Servers) > 0 {
		host = s.h.doc.Servers[0].URL
	}
	if serverURL, ok := s.h.cat.ModelServers[inv.Model]; ok {
		host = serverURL
	}

	if !s.progress(0, "starting", cancelled) {
		return
	}
	if !s.progress(30, "fetching", cancelled) {
		return
	}

	output, err := s.h.exec.Execute(ctx, host, method, path, inv.Parameters, s.h.cat.ContentTypes[inv.Tool], s.h.doc.SecuritySchemes())
	if isCancelled(cancelled) || ctx.Err() != nil {
		s.send(map[string]string{"type": "cancelled"})
		s.sendClose()
		return
	}
	if err != nil {
		s.h.log.Warn().Str("session", s.id).Str("tool", inv.Tool).Err(err).Msg("stream invocation failed")
		s.fail(err.Error())
		return
	}

	if !s.progress(70, "processing", cancelled) {
		return
	}
	s.send(completeEvent{Type: "complete", Model: inv.Model, Output: output})
	s.sendClose()
	s.h.log.Info().Str("session", s.id).Str("tool", inv.Tool).Msg("stream completed")
}

// readLoop watches for client frames. A {"type":"cancel"} message or a
// close frame aborts the invocation through the session context; other
// or malformed messages are ignored. Control frames are answered here
// so writes stay serialized with the event sender.
func (s *session) readLoop(cancel context.CancelFunc, cancelled chan struct{}) {
	for {
		frame, err := ws.ReadFrame(s.conn)
		if err != nil {
			cancel()
			return
		}
		if frame.Header.Masked {
			frame = ws.UnmaskFrame(frame)
		}
		switch frame.Header.OpCode {
		case ws.OpClose:
			cancel()
			return
		case ws.OpPing:
			s.writeFrame(ws.OpPong, frame.Payload)
		case ws.OpText:
			var msg struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(frame.Payload, &msg) == nil && msg.Type == "cancel" {
				close(cancelled)
				cancel()
				return
			}
		}
	}
}

// progress emits a progress event unless the session was cancelled, in
// which case a cancelled event goes out instead.
func (s *session) progress(percent int, status string, cancelled chan struct{}) bool {
	if isCancelled(cancelled) {
		s.send(map[string]string{"type": "cancelled"})
		s.sendClose()
		return false
	}
	return s.send(progressEvent{Type: "progress", Percent: percent, Status: status})
}

func (s *session) fail(message string) {
	s.send(errorEvent{Type: "error", Message: message})
	s.sendClose()
}

func (s *session) send(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	if err := s.writeFrame(ws.OpText, data); err != nil {
		s.h.log.Debug().Str("session", s.id).Err(err).Msg("websocket write failed")
		return false
	}
	return true
}

func (s *session) sendClose() {
	s.writeFrame(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
}

// writeFrame buffers a whole frame and writes it in a single call so
// concurrent senders never interleave header and payload bytes.
func (s *session) writeFrame(op ws.OpCode, payload []byte) error {
	var buf bytes.Buffer
	if err := ws.WriteFrame(&buf, ws.NewFrame(op, true, payload)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := s.conn.Write(buf.Bytes())
	return err
}

func isCancelled(cancelled chan struct{}) bool {
	select {
	case <-cancelled:
		return true
	default:
		return false
	}
}
