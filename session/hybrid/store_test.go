package hybrid

import (
	"context"
	"errors"
	"testing"

	"github.com/loopworks/agentrun/session/memory"
	"github.com/loopworks/agentrun/types"
)

type failingSession struct{}

func (failingSession) GetItems(context.Context, int) ([]types.ProtocolItem, error) {
	return nil, errors.New("cache down")
}

func (failingSession) AddItems(context.Context, []types.ProtocolItem) error {
	return errors.New("cache down")
}

func (failingSession) PopItem(context.Context) (*types.ProtocolItem, error) {
	return nil, errors.New("cache down")
}

func (failingSession) ClearSession(context.Context) error { return errors.New("cache down") }
func (failingSession) Close() error                       { return nil }

func TestNewRequiresDurable(t *testing.T) {
	if _, err := New(nil, memory.New()); err == nil {
		t.Fatal("nil durable accepted")
	}
}

func TestWritesLandInBothLayers(t *testing.T) {
	ctx := context.Background()
	durable := memory.New()
	cache := memory.New()
	store, err := New(durable, cache)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := store.AddItems(ctx, []types.ProtocolItem{types.UserMessage("hi")}); err != nil {
		t.Fatalf("add: %v", err)
	}

	for name, layer := range map[string]*memory.Store{"durable": durable, "cache": cache} {
		items, _ := layer.GetItems(ctx, 0)
		if len(items) != 1 {
			t.Fatalf("%s layer holds %d items, want 1", name, len(items))
		}
	}
}

func TestReadsPreferCacheThenFallBack(t *testing.T) {
	ctx := context.Background()
	durable := memory.New()
	_ = durable.AddItems(ctx, []types.ProtocolItem{types.UserMessage("from durable")})

	cache := memory.New()
	_ = cache.AddItems(ctx, []types.ProtocolItem{types.UserMessage("from cache")})

	store, _ := New(durable, cache)
	items, err := store.GetItems(ctx, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(items) != 1 || items[0].Content != "from cache" {
		t.Fatalf("items = %+v, want cache hit", items)
	}

	// Empty cache falls through to the durable layer.
	store, _ = New(durable, memory.New())
	items, _ = store.GetItems(ctx, 0)
	if len(items) != 1 || items[0].Content != "from durable" {
		t.Fatalf("items = %+v, want durable fallback", items)
	}
}

func TestCacheFailuresAreTolerated(t *testing.T) {
	ctx := context.Background()
	durable := memory.New()
	_ = durable.AddItems(ctx, []types.ProtocolItem{types.UserMessage("kept")})

	store, _ := New(durable, failingSession{})

	items, err := store.GetItems(ctx, 0)
	if err != nil || len(items) != 1 {
		t.Fatalf("read with broken cache: %v items, err %v", len(items), err)
	}

	if err := store.AddItems(ctx, []types.ProtocolItem{types.UserMessage("more")}); err != nil {
		t.Fatalf("write with broken cache: %v", err)
	}
	if err := store.ClearSession(ctx); err != nil {
		t.Fatalf("clear with broken cache: %v", err)
	}
}
