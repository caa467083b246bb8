package resilience

import (
	"context"
	"errors"
	"testing"

	embmock "github.com/fastworkflow/fastworkflow/pkg/provider/embeddings/mock"
)

func TestEmbeddings_Embed_PrimarySuccess(t *testing.T) {
	primary := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	secondary := &embmock.Provider{EmbedResult: []float32{0.9, 0.9}}

	fb := NewEmbeddings("primary", primary, GroupConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fb.Add("secondary", secondary)

	vec, err := fb.Embed(context.Background(), "ship order 41")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.1 {
		t.Fatalf("vec = %v, want [0.1 0.2]", vec)
	}
	if len(secondary.EmbedCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.EmbedCalls))
	}
}

func TestEmbeddings_Embed_Failover(t *testing.T) {
	primary := &embmock.Provider{EmbedErr: errors.New("primary down")}
	secondary := &embmock.Provider{EmbedResult: []float32{0.5}}

	fb := NewEmbeddings("primary", primary, GroupConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fb.Add("secondary", secondary)

	vec, err := fb.Embed(context.Background(), "ship order 41")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 1 || vec[0] != 0.5 {
		t.Fatalf("vec = %v, want [0.5]", vec)
	}
	if len(primary.EmbedCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.EmbedCalls))
	}
}

func TestEmbeddings_EmbedBatch_Failover(t *testing.T) {
	primary := &embmock.Provider{EmbedBatchErr: errors.New("primary down")}
	secondary := &embmock.Provider{
		EmbedBatchResult: [][]float32{{0.1}, {0.2}},
	}

	fb := NewEmbeddings("primary", primary, GroupConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fb.Add("secondary", secondary)

	vecs, err := fb.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 0.2 {
		t.Fatalf("vecs = %v, want [[0.1] [0.2]]", vecs)
	}
}

func TestEmbeddings_AllFail(t *testing.T) {
	primary := &embmock.Provider{EmbedErr: errors.New("primary down")}
	secondary := &embmock.Provider{EmbedErr: errors.New("secondary down")}

	fb := NewEmbeddings("primary", primary, GroupConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fb.Add("secondary", secondary)

	_, err := fb.Embed(context.Background(), "ship order 41")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestEmbeddings_MetadataFromPrimary(t *testing.T) {
	primary := &embmock.Provider{DimensionsValue: 1536, ModelIDValue: "text-embedding-3-small"}
	secondary := &embmock.Provider{DimensionsValue: 768, ModelIDValue: "other"}

	fb := NewEmbeddings("primary", primary, GroupConfig{})
	fb.Add("secondary", secondary)

	if got := fb.Dimensions(); got != 1536 {
		t.Errorf("Dimensions() = %d, want 1536", got)
	}
	if got := fb.ModelID(); got != "text-embedding-3-small" {
		t.Errorf("ModelID() = %q, want text-embedding-3-small", got)
	}
}
