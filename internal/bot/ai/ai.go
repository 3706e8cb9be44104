// Package ai backs the chatbot with a hosted chat model when credentials
// are configured. It keeps the therapist persona through a system prompt
// and a short per-session history window.
package ai

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/parlorchat/parlor/internal/config"
)

const systemPrompt = "You are ELIZA, a Rogerian psychotherapist. Reply to the " +
	"visitor in one or two short sentences, mostly open questions that mirror " +
	"their own words back at them. Stay in character; never mention being a " +
	"language model."

const historyLimit = 10

// Responder generates replies through an eino chain. One instance serves
// every session; conversation history is kept per session, trimmed to the
// most recent exchanges.
type Responder struct {
	chain compose.Runnable[map[string]any, *schema.Message]

	mu      sync.Mutex
	history map[string][]*schema.Message
}

// New builds the chat model from cfg and compiles the prompt + model
// chain once; Respond then reuses the compiled runnable.
func New(ctx context.Context, cfg config.AIConfig) (*Responder, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Responder{
		chain:   runnable,
		history: make(map[string][]*schema.Message),
	}, nil
}

// Respond invokes the chain with the session's history window and
// records the exchange on success.
func (r *Responder) Respond(ctx context.Context, sessionID, input string) (string, error) {
	response, err := r.chain.Invoke(ctx, map[string]any{
		"system":  systemPrompt,
		"history": r.historyFor(sessionID),
		"query":   input,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}

	r.remember(sessionID, input, response.Content)
	log.Printf("[ai] generated response for session=%s, length=%d", sessionID, len(response.Content))
	return response.Content, nil
}

// Forget drops a session's conversation history. Wire it to registry
// disconnect events so departed sessions do not accumulate.
func (r *Responder) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.history, sessionID)
}

func (r *Responder) historyFor(sessionID string) []*schema.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.history[sessionID]
	if len(h) == 0 {
		return nil
	}
	out := make([]*schema.Message, len(h))
	copy(out, h)
	return out
}

func (r *Responder) remember(sessionID, user, assistant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := append(r.history[sessionID],
		schema.UserMessage(user),
		schema.AssistantMessage(assistant, nil),
	)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	r.history[sessionID] = h
}
