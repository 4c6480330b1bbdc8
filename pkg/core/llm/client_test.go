package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedProvider answers from a per-model script.
type scriptedProvider struct {
	name    string
	replies map[string]string
	errs    map[string]error
	calls   []string
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	s.calls = append(s.calls, model)
	if err, ok := s.errs[model]; ok {
		return "", err
	}
	return s.replies[model], nil
}

func TestComplete_FallbackOrder(t *testing.T) {
	p := &scriptedProvider{
		name:    "test",
		replies: map[string]string{"c": "from c"},
		errs: map[string]error{
			"a": errors.New("rate limited"),
			"b": errors.New("unavailable"),
		},
	}
	client := NewClient(
		Fallback{Provider: p, Model: "a"},
		Fallback{Provider: p, Model: "b"},
		Fallback{Provider: p, Model: "c"},
	)

	reply, model, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	if reply != "from c" || model != "c" {
		t.Errorf("reply/model = %q/%q, want from c/c", reply, model)
	}
	if len(p.calls) != 3 || p.calls[0] != "a" || p.calls[1] != "b" || p.calls[2] != "c" {
		t.Errorf("call order = %v, want [a b c]", p.calls)
	}
}

func TestComplete_EmptyReplyTriggersFallback(t *testing.T) {
	p := &scriptedProvider{
		name:    "test",
		replies: map[string]string{"a": "  ", "b": "real answer"},
	}
	client := NewClient(
		Fallback{Provider: p, Model: "a"},
		Fallback{Provider: p, Model: "b"},
	)

	reply, model, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if reply != "real answer" || model != "b" {
		t.Errorf("reply/model = %q/%q, want real answer/b", reply, model)
	}
}

func TestComplete_AllModelsFail(t *testing.T) {
	p := &scriptedProvider{
		name: "test",
		errs: map[string]error{"a": errors.New("down")},
	}
	client := NewClient(Fallback{Provider: p, Model: "a"})

	_, _, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Error("expected error when every model fails")
	}
}

func TestComplete_EmptyConversation(t *testing.T) {
	p := &scriptedProvider{name: "test", replies: map[string]string{"a": "x"}}
	client := NewClient(Fallback{Provider: p, Model: "a"})

	_, _, err := client.Complete(context.Background(), []Message{{Role: "assistant", Content: "orphan"}})
	if err == nil {
		t.Error("expected error for conversation that normalizes to nothing")
	}
	if len(p.calls) != 0 {
		t.Errorf("provider called %d times for an empty conversation", len(p.calls))
	}
}

func TestModelCache_ExpiryWithInjectedClock(t *testing.T) {
	cache := NewModelCache(time.Hour)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.SetClock(func() time.Time { return now })

	var fetches int
	fetch := func(ctx context.Context) ([]string, error) {
		fetches++
		return []string{"model-a"}, nil
	}

	for i := 0; i < 3; i++ {
		if _, err := cache.Get(context.Background(), fetch); err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
	}
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1 while cache is fresh", fetches)
	}

	now = now.Add(time.Hour + time.Minute)
	if _, err := cache.Get(context.Background(), fetch); err != nil {
		t.Fatalf("Get after expiry returned error: %v", err)
	}
	if fetches != 2 {
		t.Errorf("fetches = %d, want 2 after expiry", fetches)
	}
}

func TestModelCache_FailedRefillKeepsNothing(t *testing.T) {
	cache := NewModelCache(time.Hour)
	boom := errors.New("models endpoint down")

	_, err := cache.Get(context.Background(), func(ctx context.Context) ([]string, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected fetch error to surface, got %v", err)
	}

	models, err := cache.Get(context.Background(), func(ctx context.Context) ([]string, error) {
		return []string{"model-a"}, nil
	})
	if err != nil || len(models) != 1 {
		t.Errorf("recovery fetch = (%v, %v), want one model", models, err)
	}
}
