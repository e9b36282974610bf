package caravan

import (
	"context"
	"errors"
	"testing"
)

func chitchatPool() *Pool {
	return testPool(
		Expert{ID: "chitchat", Agents: []string{"chitchat"},
			Capabilities: []string{"greetings", "small talk", "farewells"}},
		Expert{ID: "finance", Agents: []string{"finance"},
			Capabilities: []string{"stock prices"}},
	)
}

func TestFastPath_LexicalGreetings(t *testing.T) {
	fp := NewFastPath(context.Background(), chitchatPool(), nil, DefaultConfig(), nil)

	bypass := []string{"hello", "Hi!", "hey", "Good morning", "thanks", "bye", "how are you?"}
	for _, q := range bypass {
		if !fp.Bypass(context.Background(), q) {
			t.Errorf("Bypass(%q) = false, want true", q)
		}
	}

	pipeline := []string{"what is the price of TSLA", "hello world program in go", ""}
	for _, q := range pipeline {
		if fp.Bypass(context.Background(), q) {
			t.Errorf("Bypass(%q) = true, want false", q)
		}
	}
}

func TestFastPath_EmbeddingStrategyBypassesAboveThreshold(t *testing.T) {
	up := newStubEmbedder(2)
	pool := chitchatPool()
	chitchat, _ := pool.Get("chitchat")
	up.set(chitchat.Description(), axis())
	up.set("hello there friend", unitVec(0.9))
	up.set("quarterly revenue report", unitVec(0.1))

	cache := NewEmbeddingCache(up, 10)
	fp := NewFastPath(context.Background(), pool, cache, DefaultConfig(), nil)

	if !fp.Bypass(context.Background(), "hello there friend") {
		t.Error("high-similarity query should bypass")
	}
	if fp.Bypass(context.Background(), "quarterly revenue report") {
		t.Error("low-similarity query should not bypass")
	}
}

func TestFastPath_EmbeddingFailureFallsBackToLexical(t *testing.T) {
	up := newStubEmbedder(2)
	pool := chitchatPool()
	chitchat, _ := pool.Get("chitchat")
	up.set(chitchat.Description(), axis())

	cache := NewEmbeddingCache(up, 10)
	fp := NewFastPath(context.Background(), pool, cache, DefaultConfig(), nil)

	up.alwaysFail = errors.New("provider down")
	if !fp.Bypass(context.Background(), "hello") {
		t.Error("lexical fallback should still bypass a plain greeting")
	}
	if fp.Bypass(context.Background(), "find me a dentist") {
		t.Error("lexical fallback should not bypass a real query")
	}
}

func TestFastPath_MissingBypassExpertUsesLexical(t *testing.T) {
	pool := testPool(Expert{ID: "finance", Agents: []string{"finance"},
		Capabilities: []string{"stocks"}})
	cache := NewEmbeddingCache(newStubEmbedder(2), 10)
	fp := NewFastPath(context.Background(), pool, cache, DefaultConfig(), nil)

	if !fp.Bypass(context.Background(), "hello") {
		t.Error("expected lexical bypass when no chitchat expert exists")
	}
}
