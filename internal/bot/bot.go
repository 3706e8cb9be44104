// Package bot defines the chatbot contract the routing layer speaks to.
package bot

import "context"

// Responder produces one reply for one user utterance. sessionID keys
// whatever per-conversation state an implementation keeps; stateless
// implementations may ignore it.
type Responder interface {
	Respond(ctx context.Context, sessionID, input string) (string, error)
}
