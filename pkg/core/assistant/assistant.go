// Package assistant wraps the chat client in a session: it keeps the running
// conversation, logs every exchange to the document store, and offers a
// structured helper for turning natural-language requests into ticker lists.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fundsync/pkg/core/llm"
	"fundsync/pkg/core/store"
	"fundsync/pkg/core/utils"
)

const systemPrompt = "You are an assistant for a stock fundamentals " +
	"database. Answer questions about tickers, filing periods and financial " +
	"statement fields. Be brief and concrete."

// Completer is the slice of llm.Client the assistant needs.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, string, error)
}

// InteractionLogger persists one exchange.
type InteractionLogger interface {
	Insert(ctx context.Context, log store.ChatLog) error
}

// Assistant is one conversation session.
type Assistant struct {
	client    Completer
	logs      InteractionLogger
	sessionID string
	history   []llm.Message
}

// New starts a fresh session.
func New(client Completer, logs InteractionLogger) *Assistant {
	return &Assistant{
		client:    client,
		logs:      logs,
		sessionID: uuid.NewString(),
	}
}

// SessionID identifies this conversation in the interaction log.
func (a *Assistant) SessionID() string {
	return a.sessionID
}

// Ask sends one user turn, extends the session history with the exchange,
// and logs it. A logging failure never fails the exchange.
func (a *Assistant) Ask(ctx context.Context, prompt string) (string, error) {
	messages := make([]llm.Message, 0, len(a.history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, a.history...)
	messages = append(messages, llm.Message{Role: "user", Content: prompt})

	start := time.Now()
	reply, model, err := a.client.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("assistant: %w", err)
	}

	a.history = append(a.history,
		llm.Message{Role: "user", Content: prompt},
		llm.Message{Role: "assistant", Content: reply},
	)

	if a.logs != nil {
		entry := store.ChatLog{
			SessionID: a.sessionID,
			Model:     model,
			Prompt:    prompt,
			Reply:     reply,
			LatencyMS: time.Since(start).Milliseconds(),
			CreatedAt: time.Now().UTC(),
		}
		if err := a.logs.Insert(ctx, entry); err != nil {
			slog.Warn("failed to log chat interaction", "session_id", a.sessionID, "error", err)
		}
	}
	return reply, nil
}

// ExtractTickers asks the model which tickers a free-form request refers to
// and parses the reply leniently. The exchange is stateless: it does not
// touch the session history.
func (a *Assistant) ExtractTickers(ctx context.Context, request string) ([]string, error) {
	messages := []llm.Message{
		{Role: "system", Content: "Extract stock ticker symbols from the user's request. " +
			"Reply with only a JSON array of uppercase symbols, nothing else."},
		{Role: "user", Content: request},
	}

	reply, _, err := a.client.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("assistant: extract tickers: %w", err)
	}

	var raw []string
	if err := utils.SmartParse(reply, &raw); err != nil {
		return nil, fmt.Errorf("assistant: model reply is not a ticker list: %w", err)
	}

	seen := make(map[string]bool)
	tickers := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		tickers = append(tickers, s)
	}
	return tickers, nil
}
