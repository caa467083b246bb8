package resilience

import (
	"context"

	"github.com/fastworkflow/fastworkflow/pkg/provider/embeddings"
)

// Embeddings implements [embeddings.Provider] with failover across multiple
// backends.
//
// Vectors from different embedding models live in different spaces and must
// never be mixed inside one utterance cache, so fallbacks have to serve the
// same model as the primary (for example the same model behind two API
// deployments). Dimensions and ModelID therefore always come from the
// primary.
type Embeddings struct {
	group *Group[embeddings.Provider]
}

// Compile-time interface check.
var _ embeddings.Provider = (*Embeddings)(nil)

// NewEmbeddings creates an [Embeddings] with primary as the preferred
// backend.
func NewEmbeddings(name string, primary embeddings.Provider, cfg GroupConfig) *Embeddings {
	return &Embeddings{group: NewGroup(name, primary, cfg)}
}

// Add registers a fallback backend.
func (e *Embeddings) Add(name string, p embeddings.Provider) {
	e.group.Add(name, p)
}

// Embed encodes text on the first healthy backend.
func (e *Embeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	return Call(e.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch encodes texts on the first healthy backend.
func (e *Embeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return Call(e.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions reports the primary's vector length.
func (e *Embeddings) Dimensions() int {
	return e.group.Primary().Dimensions()
}

// ModelID reports the primary's model identifier.
func (e *Embeddings) ModelID() string {
	return e.group.Primary().ModelID()
}
