// Command assistant is an interactive console over the chat client. Every
// exchange is logged to the document store's chat_logs collection when
// MongoDB is configured.
//
// Commands inside the session:
//
//	/tickers <request>  extract ticker symbols from a natural-language request
//	/quit               exit
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"fundsync/pkg/core/assistant"
	"fundsync/pkg/core/config"
	"fundsync/pkg/core/llm"
	"fundsync/pkg/core/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := godotenv.Load(); err != nil {
		slog.Info(".env not found, using process environment")
	}

	cfg := config.Load()
	ctx := context.Background()

	var chain []llm.Fallback
	if cfg.OpenRouterAPIKey != "" {
		openrouter := llm.NewOpenRouterProvider(cfg.OpenRouterAPIKey)
		for _, model := range cfg.ChatModels {
			chain = append(chain, llm.Fallback{Provider: openrouter, Model: model})
		}
	}
	if cfg.GeminiAPIKey != "" {
		chain = append(chain, llm.Fallback{Provider: llm.NewGeminiProvider(cfg.GeminiAPIKey), Model: cfg.GeminiModel})
	}
	if len(chain) == 0 {
		slog.Error("no chat providers configured; set OPENROUTER_API_KEY or GEMINI_API_KEY")
		os.Exit(1)
	}

	var logs assistant.InteractionLogger
	if cfg.MongoURI != "" {
		if err := store.InitMongo(ctx, cfg.MongoURI); err != nil {
			slog.Warn("mongodb unavailable, chat interactions will not be logged", "error", err)
		} else {
			defer store.Close(ctx)
			logs = store.NewChatLogRepo(store.MongoDatabase(cfg.MongoDatabase))
		}
	}

	a := assistant.New(llm.NewClient(chain...), logs)
	fmt.Printf("session %s — ask about the fundamentals database (/quit to exit)\n", a.SessionID())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/tickers "):
			tickers, err := a.ExtractTickers(ctx, strings.TrimPrefix(line, "/tickers "))
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println(strings.Join(tickers, " "))
		default:
			reply, err := a.Ask(ctx, line)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println(reply)
		}
	}
}
