package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	caravan "github.com/nevindra/caravan"
	"github.com/nevindra/caravan/internal/app"
	"github.com/nevindra/caravan/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to caravan.toml")
	query := flag.String("q", "", "answer a single query and exit")
	session := flag.String("session", "", "opaque session id passed to agents")
	showTrace := flag.Bool("trace", false, "print the request trace as JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.LLM.APIKey == "" {
		log.Fatal("an LLM API key is required (set CARAVAN_LLM_API_KEY or [llm] api_key)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	if *query != "" {
		answer(ctx, a, *query, *session, *showTrace)
		return
	}

	repl(ctx, a, *session, *showTrace)
}

func answer(ctx context.Context, a *app.App, query, session string, showTrace bool) {
	text, tr := a.Answer(ctx, query, session)
	fmt.Println(text)
	if showTrace {
		printTrace(tr)
	}
}

func repl(ctx context.Context, a *app.App, session string, showTrace bool) {
	fmt.Println("caravan ready — type a query, or /quit to exit")
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
		case line == "/quit", line == "/exit":
			return
		case line == "/stats":
			stats := a.CacheStats()
			fmt.Printf("embedding cache: size=%d hits=%d misses=%d evictions=%d upstream_ms=%d\n",
				stats.Size, stats.Hits, stats.Misses, stats.Evictions, stats.UpstreamMS)
			continue
		}

		text, tr := a.Answer(ctx, line, session)
		fmt.Println(text)
		if showTrace {
			printTrace(tr)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func printTrace(tr caravan.Trace) {
	payload, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		log.Printf("trace: %v", err)
		return
	}
	fmt.Fprintln(os.Stderr, string(payload))
}
