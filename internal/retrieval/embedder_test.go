package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
)

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	e := NewEmbedder(embedClientFunc(func(ctx context.Context, model, text string) ([]float32, error) {
		var seed float32
		fmt.Sscanf(text, "text-%f", &seed)
		return []float32{seed}, nil
	}), "test-model")

	texts := make([]string, 20)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}

	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vecs[%d] = %f, want %d", i, v[0], i)
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	e := NewEmbedder(embedClientFunc(func(ctx context.Context, model, text string) ([]float32, error) {
		t.Fatal("client should not be called for empty input")
		return nil, nil
	}), "test-model")

	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil, got %v", vecs)
	}
}

func TestEmbedBatch_FirstErrorWins(t *testing.T) {
	var calls atomic.Int32
	wantErr := errors.New("boom")
	e := NewEmbedder(embedClientFunc(func(ctx context.Context, model, text string) ([]float32, error) {
		if calls.Add(1) == 1 {
			return nil, wantErr
		}
		return []float32{1}, nil
	}), "test-model")

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
