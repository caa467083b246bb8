// Package ollama provides an [embeddings.Provider] backed by an Ollama
// server's /api/embed endpoint, through the official client from
// github.com/ollama/ollama/api. Typical models are nomic-embed-text,
// mxbai-embed-large and all-minilm; the vectors feed the utterance cache, so
// model and width must stay stable for the lifetime of a cache.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/fastworkflow/fastworkflow/pkg/provider/embeddings"
)

// DefaultBaseURL points at a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// knownWidths maps recognised embedding models to their native vector width.
// Models not listed are probed against the live server on the first
// Dimensions call.
var knownWidths = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider embeds text through an Ollama server. Safe for concurrent use.
type Provider struct {
	client *api.Client
	model  string

	// width is resolved from WithDimensions, the known-model table, or a
	// one-time probe, in that order. Written only in New and inside
	// probeOnce.
	width     int
	probeOnce sync.Once
}

type config struct {
	timeout time.Duration
	width   int
}

// Option configures a [Provider].
type Option func(*config)

// WithTimeout bounds each embedding request. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions pre-sets the vector width, skipping both the model table
// and the probe request. Set it when the cache schema fixes the width.
func WithDimensions(dims int) Option {
	return func(c *config) { c.width = dims }
}

// New constructs a Provider talking to the Ollama server at baseURL (empty
// means [DefaultBaseURL]). model names the embedding model and must not be
// empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: parse base url %q: %w", baseURL, err)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	p := &Provider{
		client: api.NewClient(base, httpClient),
		model:  model,
		width:  cfg.width,
	}
	if p.width == 0 {
		p.width = lookupWidth(model)
	}
	return p, nil
}

// Embed implements [embeddings.Provider]. Text passes through verbatim; any
// model-specific prefix ("query: " for nomic-embed-text retrieval) is the
// caller's responsibility.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements [embeddings.Provider]. result[i] corresponds to
// texts[i]. Empty input returns (nil, nil) without a request; on error no
// partial results are returned.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: got %d vectors, want %d", len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimensions implements [embeddings.Provider]. An unknown model costs one
// probe request on the first call; a failed probe reports 0 and is not
// retried.
func (p *Provider) Dimensions() int {
	p.probeOnce.Do(func() {
		if p.width != 0 {
			return
		}
		vecs, err := p.embed(context.Background(), []string{"probe"})
		if err == nil && len(vecs) > 0 {
			p.width = len(vecs[0])
		}
	})
	return p.width
}

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{
		Model: p.model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings in response")
	}
	return resp.Embeddings, nil
}

// lookupWidth resolves the width for recognised model names, matching on the
// base name so tagged forms ("nomic-embed-text:v1.5") resolve too.
func lookupWidth(model string) int {
	lower := strings.ToLower(model)
	for name, width := range knownWidths {
		if strings.Contains(lower, name) {
			return width
		}
	}
	return 0
}
