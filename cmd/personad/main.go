// Package main is the entry point for the persona control core daemon.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/easeaico/persona-core/internal/config"
	"github.com/easeaico/persona-core/internal/core"
	"github.com/easeaico/persona-core/internal/metamemory"
	"github.com/easeaico/persona-core/internal/models"
	"github.com/easeaico/persona-core/internal/persona"
	"github.com/easeaico/persona-core/internal/prompt"
	"github.com/easeaico/persona-core/internal/repository"
	"github.com/easeaico/persona-core/internal/safety"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 优雅关闭处理
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n正在关闭...")
		cancel()
	}()

	// 初始化数据库连接
	store, err := repository.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	growth, err := metamemory.Open(cfg.MetaLogPath)
	if err != nil {
		log.Fatalf("failed to open growth log: %v", err)
	}
	defer growth.Close()

	card, err := config.LoadCard(cfg.PersonaCardPath)
	if err != nil {
		log.Fatalf("failed to load persona card: %v", err)
	}

	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to create completion client: %v", err)
	}

	// 嵌入服务是可选的：没有 Google key 时关闭相似回忆
	var embedder persona.Embedder
	if cfg.GoogleAPIKey != "" {
		e, err := models.NewGenAIEmbedder(ctx, cfg.GoogleAPIKey, cfg.EmbeddingModel)
		if err != nil {
			log.Fatalf("failed to create embedder service: %v", err)
		}
		embedder = e
	}

	machine := core.NewMachine(completer, prompt.NewBuilder(card))
	classifier := safety.NewModelClassifier(completer.Complete)
	svc := persona.NewService(machine, classifier, store.Traits, store.History, growth, embedder, persona.Options{
		RecallTopK:      cfg.TopK,
		RecallThreshold: cfg.SimilarityThreshold,
	})

	if card.Greeting != "" {
		fmt.Println(card.Greeting)
	}
	runREPL(ctx, svc)
}

// newCompleter prefers an OpenAI-compatible endpoint when configured,
// otherwise falls back to Gemini.
func newCompleter(ctx context.Context, cfg config.Config) (core.Completer, error) {
	if cfg.OpenAIAPIKey != "" {
		return models.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.LLMModel)
	}
	return models.NewGeminiClient(ctx, cfg.GoogleAPIKey, cfg.LLMModel)
}

// runREPL reads one message per line from stdin and prints the reply.
func runREPL(ctx context.Context, svc *persona.Service) {
	sessionID := "local"
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Print("> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "exit" || input == "quit" {
			return
		}

		result, err := svc.ProcessTurn(ctx, sessionID, input)
		if err != nil {
			fmt.Printf("error: %v\n> ", err)
			continue
		}
		if result.StorageErr != nil {
			log.Printf("storage degraded: %v", result.StorageErr)
		}
		if result.Reply != "" {
			fmt.Println(result.Reply)
		}
		fmt.Print("> ")
	}
}
