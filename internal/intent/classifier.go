package intent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/fastworkflow/fastworkflow/internal/fuzzy"
	"github.com/fastworkflow/fastworkflow/internal/session"
	"github.com/fastworkflow/fastworkflow/internal/uttcache"
	"github.com/fastworkflow/fastworkflow/pkg/provider/embeddings"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// Default thresholds, applied when the corresponding Config field is zero.
const (
	// defaultCacheSimilarity is the minimum cosine similarity for a cached
	// utterance to be reused.
	defaultCacheSimilarity = 0.85

	// defaultFuzzyAccept is the minimum normalized Levenshtein similarity
	// between an utterance and a command name. A score exactly at the
	// threshold is accepted.
	defaultFuzzyAccept = 0.7

	// defaultAmbiguityMargin is the score gap under which two model
	// candidates count as indistinguishable. A gap exactly equal to the
	// margin still picks the top candidate.
	defaultAmbiguityMargin = 0.1
)

// Predictor produces scored command candidates for an utterance. The commands
// slice is the candidate universe; predictions outside it are discarded by the
// caller.
type Predictor interface {
	Predict(ctx context.Context, utterance string, commands []*workflow.CommandDescriptor) ([]Candidate, error)
}

// Config assembles a [Classifier]. Definition is required; every other field
// is optional and its rung is skipped when absent.
type Config struct {
	// Definition is the loaded workflow the classifier resolves against.
	Definition *workflow.Definition

	// Embedder computes utterance embeddings for the cache rung. When nil
	// the cache rung is skipped.
	Embedder embeddings.Provider

	// Cache is the utterance cache guard. When nil the cache rung is
	// skipped and Learn is a no-op.
	Cache *uttcache.Guard

	// Predictor is the tiered model rung. When nil the ladder ends at fuzzy
	// matching.
	Predictor Predictor

	// CacheSimilarity overrides defaultCacheSimilarity when non-zero.
	CacheSimilarity float64

	// FuzzyAccept overrides defaultFuzzyAccept when non-zero.
	FuzzyAccept float64

	// AmbiguityMargin overrides defaultAmbiguityMargin when non-zero.
	AmbiguityMargin float64
}

// Classifier resolves utterances to qualified command names by walking the
// resolution ladder documented on the package. Safe for concurrent use; all
// fields are set at construction and never mutated.
type Classifier struct {
	def       *workflow.Definition
	embedder  embeddings.Provider
	cache     *uttcache.Guard
	predictor Predictor

	cacheSimilarity float64
	fuzzyAccept     float64
	ambiguityMargin float64
}

// NewClassifier creates a Classifier from cfg, filling zero thresholds with
// the package defaults.
func NewClassifier(cfg Config) *Classifier {
	c := &Classifier{
		def:             cfg.Definition,
		embedder:        cfg.Embedder,
		cache:           cfg.Cache,
		predictor:       cfg.Predictor,
		cacheSimilarity: cfg.CacheSimilarity,
		fuzzyAccept:     cfg.FuzzyAccept,
		ambiguityMargin: cfg.AmbiguityMargin,
	}
	if c.cacheSimilarity <= 0 {
		c.cacheSimilarity = defaultCacheSimilarity
	}
	if c.fuzzyAccept <= 0 {
		c.fuzzyAccept = defaultFuzzyAccept
	}
	if c.ambiguityMargin <= 0 {
		c.ambiguityMargin = defaultAmbiguityMargin
	}
	return c
}

// Classify resolves in.Utterance against the candidate universe selected by
// in.Stage. It never returns an error: infrastructure failures degrade to a
// MethodNone result and the caller decides how to respond.
func (c *Classifier) Classify(ctx context.Context, in Input) Result {
	utterance := strings.TrimSpace(in.Utterance)
	universe := c.Universe(in)
	if utterance == "" || len(universe) == 0 {
		return Result{CommandText: utterance, Method: MethodNone}
	}

	if name, rest, ok := prefixParse(utterance, universe); ok {
		return Result{Command: name, CommandText: rest, Method: MethodPrefix, Builtin: isBuiltinName(name)}
	}

	if name, ok := c.builtinExact(utterance, universe); ok {
		return Result{Command: name, CommandText: utterance, Method: MethodBuiltin, Builtin: true}
	}

	if name, ok := c.cacheLookup(ctx, utterance, universe); ok {
		return Result{Command: name, CommandText: utterance, Method: MethodCache, Builtin: isBuiltinName(name)}
	}

	if name, ok := c.fuzzyLookup(utterance, universe); ok {
		return Result{Command: name, CommandText: utterance, Method: MethodFuzzy, Builtin: isBuiltinName(name)}
	}

	return c.modelLookup(ctx, utterance, universe)
}

// Universe returns the qualified command names in.Stage allows. The slice is
// sorted and never aliases stored state.
func (c *Classifier) Universe(in Input) []string {
	var names []string
	switch in.Stage {
	case session.StageAmbiguityClarification:
		// The user is picking among the previous turn's candidates; only the
		// escape hatches are added back.
		names = slices.Clone(in.Candidates)
		names = appendMissing(names, workflow.BuiltinAbort, workflow.BuiltinWhatCanIDo)

	case session.StageMisunderstandingClarification:
		// A correction names a command of the current context directly;
		// inherited commands from ancestors are excluded.
		names = []string{
			workflow.BuiltinAbort,
			workflow.BuiltinWhatCanIDo,
			workflow.BuiltinMisunderstood,
			workflow.BuiltinGoUp,
		}
		names = appendMissing(names, c.def.OwnCommands(in.Context)...)

	default:
		names = c.def.CommandsFor(in.Context)
	}
	slices.Sort(names)
	return names
}

// Learn stores a confirmed utterance-to-command mapping in the cache. It is a
// no-op without an embedder and cache; embedding failures are returned so the
// caller can log them, cache write failures are already swallowed by the
// guard.
func (c *Classifier) Learn(ctx context.Context, utterance, command string, flag int) error {
	if c.embedder == nil || c.cache == nil {
		return nil
	}
	vec, err := c.embedder.Embed(ctx, utterance)
	if err != nil {
		return fmt.Errorf("intent: embed utterance for cache: %w", err)
	}
	return c.cache.Add(ctx, uttcache.Entry{
		Utterance: utterance,
		Command:   command,
		Flag:      flag,
		Embedding: vec,
	})
}

// prefixParse matches an utterance that starts with a literal command name,
// optionally followed by a space or "(". An utterance that is nothing but a
// command name (after normalization, so "Go Up" matches go_up) also hits
// here, with an empty remainder.
func prefixParse(utterance string, universe []string) (name, rest string, ok bool) {
	normalized := fuzzy.Normalize(utterance)
	for _, q := range universe {
		_, bare := workflow.SplitQualified(q)
		if normalized == fuzzy.Normalize(bare) {
			return q, "", true
		}
	}

	head := utterance
	if i := strings.IndexAny(utterance, " ("); i >= 0 {
		head = utterance[:i]
		rest = strings.TrimSpace(utterance[i:])
	}
	if head == "" || rest == "" {
		return "", "", false
	}
	for _, q := range universe {
		_, bare := workflow.SplitQualified(q)
		if strings.EqualFold(head, bare) {
			return q, rest, true
		}
	}
	return "", "", false
}

// builtinExact matches the correction built-ins by their plain utterances.
// These bypass every scored rung so that "abort" works even when the cache or
// model would map it elsewhere.
func (c *Classifier) builtinExact(utterance string, universe []string) (string, bool) {
	normalized := fuzzy.Normalize(utterance)
	for _, name := range []string{workflow.BuiltinAbort, workflow.BuiltinWhatCanIDo, workflow.BuiltinMisunderstood} {
		if !slices.Contains(universe, name) {
			continue
		}
		desc, ok := c.def.Command(name)
		if !ok {
			continue
		}
		for _, u := range desc.Utterances {
			if normalized == fuzzy.Normalize(u) {
				return name, true
			}
		}
	}
	return "", false
}

// cacheLookup embeds the utterance and reuses the nearest confirmed mapping
// when it clears the similarity threshold and still names a command in the
// allowed universe.
func (c *Classifier) cacheLookup(ctx context.Context, utterance string, universe []string) (string, bool) {
	if c.embedder == nil || c.cache == nil {
		return "", false
	}
	vec, err := c.embedder.Embed(ctx, utterance)
	if err != nil {
		slog.Warn("intent: utterance embedding failed, skipping cache rung", "error", err)
		return "", false
	}
	hit, err := c.cache.Nearest(ctx, vec)
	if err != nil || hit == nil {
		return "", false
	}
	if hit.Similarity < c.cacheSimilarity {
		return "", false
	}
	if !slices.Contains(universe, hit.Command) {
		return "", false
	}
	return hit.Command, true
}

// fuzzyLookup scores the utterance against every bare command name and
// accepts the best when it reaches the threshold. Ties resolve to the
// alphabetically first qualified name.
func (c *Classifier) fuzzyLookup(utterance string, universe []string) (string, bool) {
	best := ""
	bestScore := -1.0
	for _, q := range universe {
		_, bare := workflow.SplitQualified(q)
		score := fuzzy.Similarity(utterance, bare)
		if score > bestScore || (score == bestScore && q < best) {
			best, bestScore = q, score
		}
	}
	if best == "" || bestScore < c.fuzzyAccept {
		return "", false
	}
	return best, true
}

// modelLookup runs the tiered predictor and applies ambiguity detection to
// its candidate set. Predictions naming commands outside the universe are
// dropped.
func (c *Classifier) modelLookup(ctx context.Context, utterance string, universe []string) Result {
	miss := Result{CommandText: utterance, Method: MethodNone}
	if c.predictor == nil {
		return miss
	}

	descs := make([]*workflow.CommandDescriptor, 0, len(universe))
	for _, q := range universe {
		if d, ok := c.def.Command(q); ok {
			descs = append(descs, d)
		}
	}
	if len(descs) == 0 {
		return miss
	}

	cands, err := c.predictor.Predict(ctx, utterance, descs)
	if err != nil {
		slog.Warn("intent: model prediction failed, treating as no match", "error", err)
		return miss
	}

	valid := make([]Candidate, 0, len(cands))
	for _, cand := range cands {
		if slices.Contains(universe, cand.Command) {
			valid = append(valid, cand)
		}
	}
	if len(valid) == 0 {
		return miss
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Score != valid[j].Score {
			return valid[i].Score > valid[j].Score
		}
		return valid[i].Command < valid[j].Command
	})

	top := valid[0]
	group := []string{top.Command}
	for _, cand := range valid[1:] {
		if cand.Command == top.Command {
			continue
		}
		if top.Score-cand.Score < c.ambiguityMargin {
			group = appendMissing(group, cand.Command)
		}
	}
	if len(group) > 1 {
		return Result{Candidates: group, CommandText: utterance, Method: MethodModel}
	}
	return Result{Command: top.Command, CommandText: utterance, Method: MethodModel, Builtin: isBuiltinName(top.Command)}
}

// isBuiltinName reports whether the qualified name resolves to a built-in.
func isBuiltinName(qualified string) bool {
	_, bare := workflow.SplitQualified(qualified)
	return workflow.IsBuiltin(bare)
}

// appendMissing appends each value not already present, preserving order.
func appendMissing(names []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(names, v) {
			names = append(names, v)
		}
	}
	return names
}
