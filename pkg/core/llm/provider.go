// Package llm is the chat-completion client used by the assistant: a fallback
// chain over providers, conversation-shape normalization, and a model-list
// cache with explicit expiry.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Message is one turn of a conversation in the chat-completions wire shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a single chat-completion backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, model string, messages []Message) (string, error)
}

// Fallback pairs a provider with the model to request from it.
type Fallback struct {
	Provider Provider
	Model    string
}

// Client completes conversations against an ordered fallback chain: each
// entry is tried in turn, moving on when a model errors or returns an empty
// reply. The model that answered is reported back to the caller so
// interaction logs can attribute replies.
type Client struct {
	chain []Fallback
}

// NewClient builds a client over the given fallback chain.
func NewClient(chain ...Fallback) *Client {
	return &Client{chain: chain}
}

// Complete normalizes the conversation and runs it down the fallback chain.
// Returns the reply and the model that produced it.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, string, error) {
	msgs := NormalizeMessages(messages)
	if len(msgs) == 0 {
		return "", "", errors.New("llm: conversation is empty after normalization")
	}
	if len(c.chain) == 0 {
		return "", "", errors.New("llm: no models configured")
	}

	var errs []error
	for _, fb := range c.chain {
		reply, err := fb.Provider.Chat(ctx, fb.Model, msgs)
		if err != nil {
			slog.Warn("chat model failed, trying next",
				"provider", fb.Provider.Name(), "model", fb.Model, "error", err)
			errs = append(errs, fmt.Errorf("%s/%s: %w", fb.Provider.Name(), fb.Model, err))
			continue
		}
		if strings.TrimSpace(reply) == "" {
			errs = append(errs, fmt.Errorf("%s/%s: empty reply", fb.Provider.Name(), fb.Model))
			continue
		}
		return reply, fb.Model, nil
	}
	return "", "", fmt.Errorf("llm: all models failed: %w", errors.Join(errs...))
}
