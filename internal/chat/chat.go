// Package chat turns inbound chat frames into broadcast responses. It
// owns the room's voice: the greeting, the farewell, and the decision of
// when the bot gets a say.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/parlorchat/parlor/internal/bot"
	"github.com/parlorchat/parlor/internal/frame"
)

// Topic is the shared broadcast destination every participant subscribes
// to. All chat exchanges from all sessions fan out through it.
const Topic = "/topic/messages"

// BotName is the sender attributed to every server-authored message.
const BotName = "Eliza"

const (
	greeting = "How do you do. Please tell me your problem."
	farewell = "Goodbye. It was nice talking to you."
	fallback = "I am having trouble collecting my thoughts right now. Please go on."
)

// farewellTokens end a conversation without consulting the bot.
var farewellTokens = []string{"bye", "goodbye", "farewell", "see ya", "see you"}

// MessageType tags a response for the client.
type MessageType string

const (
	TypeSystem MessageType = "SYSTEM"
	TypeChat   MessageType = "CHAT"
)

// Payload is the body of an inbound chat SEND. Sender is whatever name
// the client chose for itself; routing only cares about Content.
type Payload struct {
	Content string `json:"content"`
	Sender  string `json:"sender"`
}

// Response is the body published to the broadcast topic. SessionID names
// the session whose frame produced it, so clients can tell their own
// exchanges from everyone else's.
type Response struct {
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Sender    string      `json:"sender"`
	SessionID string      `json:"originalSessionId"`
	Timestamp int64       `json:"timestamp"`
}

// Publisher is the slice of the broker the handler needs.
type Publisher interface {
	Publish(destination string, f *frame.Frame) int
}

// Handler routes chat traffic. It keeps no per-conversation state; that
// belongs to the Responder.
type Handler struct {
	responder bot.Responder
	publisher Publisher
}

func NewHandler(responder bot.Responder, publisher Publisher) *Handler {
	return &Handler{responder: responder, publisher: publisher}
}

// Greet announces a fresh session to the room with the fixed opening
// line. The response carries the new session's id as origin.
func (h *Handler) Greet(sessionID string) Response {
	return h.publish(Response{
		Type:      TypeSystem,
		Content:   greeting,
		Sender:    BotName,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	})
}

// HandleChat answers one utterance. Farewells get the fixed goodbye
// without waking the bot; everything else is delegated to the responder.
// A responder failure of any kind degrades to an in-character apology
// rather than an error frame, so the session stays usable.
func (h *Handler) HandleChat(ctx context.Context, sessionID string, payload Payload) Response {
	resp := Response{
		Sender:    BotName,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	}

	if isFarewell(payload.Content) {
		resp.Type = TypeSystem
		resp.Content = farewell
		return h.publish(resp)
	}

	reply, err := h.invoke(ctx, sessionID, payload.Content)
	if err != nil {
		log.Printf("[chat] responder failed for session=%s: %v", sessionID, err)
		resp.Type = TypeSystem
		resp.Content = fallback
		return h.publish(resp)
	}

	resp.Type = TypeChat
	resp.Content = reply
	return h.publish(resp)
}

// HandleRaw decodes an inbound chat body and routes it. A body that does
// not decode gets the same apologetic fallback as a responder failure;
// the session stays open either way.
func (h *Handler) HandleRaw(ctx context.Context, sessionID string, body []byte) Response {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		log.Printf("[chat] undecodable payload from session=%s: %v", sessionID, err)
		return h.publish(Response{
			Type:      TypeSystem,
			Content:   fallback,
			Sender:    BotName,
			SessionID: sessionID,
			Timestamp: time.Now().UnixMilli(),
		})
	}
	return h.HandleChat(ctx, sessionID, p)
}

// invoke shields the caller from responder panics as well as errors.
func (h *Handler) invoke(ctx context.Context, sessionID, content string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("responder panic: %v", r)
		}
	}()
	return h.responder.Respond(ctx, sessionID, content)
}

func (h *Handler) publish(resp Response) Response {
	body, err := json.Marshal(resp)
	if err != nil {
		// Response is a plain value type; this cannot happen in practice.
		log.Printf("[chat] failed to encode response: %v", err)
		return resp
	}

	f := frame.New(frame.Message)
	f.SetHeader(frame.HdrDestination, Topic)
	f.SetHeader(frame.HdrSubscription, Topic)
	f.SetHeader(frame.HdrContentType, "application/json")
	f.Body = body
	h.publisher.Publish(Topic, f)
	return resp
}

// isFarewell looks for a farewell token on word boundaries, so "maybe"
// does not read as "bye".
func isFarewell(content string) bool {
	text := " " + normalizeWords(content) + " "
	for _, token := range farewellTokens {
		if strings.Contains(text, " "+token+" ") {
			return true
		}
	}
	return false
}

func normalizeWords(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
