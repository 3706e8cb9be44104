package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parlorchat/parlor/internal/relay"
	"github.com/parlorchat/parlor/internal/transport"
	"github.com/parlorchat/parlor/pkg/utils"
)

// maxSendBytes caps one send-request body at the frame size limit.
const maxSendBytes = 64 * 1024

// Sock terminates the negotiation and transport endpoints: capability
// discovery, the websocket upgrade, and the HTTP-carried streaming and
// polling variants with their shared send path.
type Sock struct {
	relay     *relay.Relay
	manager   *transport.Manager
	heartbeat time.Duration
	idle      time.Duration
	upgrader  websocket.Upgrader
}

func NewSock(rl *relay.Relay, m *transport.Manager, heartbeat, idle time.Duration) *Sock {
	return &Sock{
		relay:     rl,
		manager:   m,
		heartbeat: heartbeat,
		idle:      idle,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the transport endpoints under /eliza.
func (h *Sock) RegisterRoutes(r chi.Router) {
	r.Route("/eliza", func(api chi.Router) {
		api.Get("/info", h.handleInfo)
		api.Route("/{server}/{session}", func(conn chi.Router) {
			conn.Get("/websocket", h.handleWebSocket)
			conn.Post("/streaming", h.handleStreaming)
			conn.Post("/poll", h.handlePoll)
			conn.Post("/send", h.handleSend)
		})
	})
}

// handleInfo answers the capability-discovery request clients use to
// pick a transport before opening the real connection.
func (h *Sock) handleInfo(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"transports": []string{"websocket", "streaming", "polling"},
		"heartbeat":  h.heartbeat.Milliseconds(),
		"session":    "/eliza/{server}/{session}",
		"entropy":    uuid.New().ID(),
	})
}

// handleWebSocket upgrades and runs the conversation on the request
// goroutine. The upgraded connection is its own correlation, so it never
// touches the manager.
func (h *Sock) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[handler] websocket upgrade failed: %v", err)
		return
	}
	ch := transport.NewWebSocket(conn, h.heartbeat, h.idle)
	h.relay.Serve(r.Context(), ch)
}

// handleStreaming holds the request open as the session's receive
// stream. Frames and keep-alive probes flush until the channel closes or
// the client goes away.
func (h *Sock) handleStreaming(w http.ResponseWriter, r *http.Request) {
	ch, err := h.manager.Streaming(connKey(r))
	if err != nil {
		utils.RespondError(w, http.StatusConflict, "session is bound to another transport")
		return
	}
	switch err := ch.Serve(w, r); {
	case errors.Is(err, transport.ErrBusy):
		utils.RespondError(w, http.StatusConflict, "stream already attached")
	case err != nil:
		// Headers are long gone; nothing to report to the client.
		log.Printf("[handler] stream for %s ended: %v", connKey(r), err)
	}
}

// handlePoll returns every frame queued since the last poll. An empty
// batch degrades to a bare keep-alive probe.
func (h *Sock) handlePoll(w http.ResponseWriter, r *http.Request) {
	batch, err := h.manager.Poll(connKey(r))
	if err != nil {
		utils.RespondError(w, http.StatusConflict, "session is bound to another transport")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if len(batch) == 0 {
		w.Write([]byte("\n"))
		return
	}
	for _, f := range batch {
		w.Write(f)
	}
}

// handleSend carries client frames for the streaming and polling
// variants.
func (h *Sock) handleSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSendBytes))
	if err != nil {
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "frame too large")
		return
	}
	switch err := h.manager.Deliver(connKey(r), body); {
	case errors.Is(err, transport.ErrNoChannel), errors.Is(err, transport.ErrClosed):
		utils.RespondError(w, http.StatusNotFound, "no such session")
	case errors.Is(err, transport.ErrInboundFull):
		utils.RespondError(w, http.StatusServiceUnavailable, "session is backlogged")
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, "delivery failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func connKey(r *http.Request) string {
	return transport.Key(chi.URLParam(r, "server"), chi.URLParam(r, "session"))
}
