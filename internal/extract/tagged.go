package extract

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// TaggedExtractor parses structured parameter notation without any model
// call. Two notations are recognized, tags first:
//
//	<order_id>ORD-100</order_id>     tag form, produced by the agent
//	order_id=ORD-100                 pair form, as typed after a command name
//
// Pair values may be quoted to include spaces. Fields not present in the text
// keep their sentinel. The zero value is ready to use.
type TaggedExtractor struct {
	mu  sync.Mutex
	res map[string]*regexp.Regexp
}

var _ Extractor = (*TaggedExtractor)(nil)

// Extract implements [Extractor]. It never returns an error; text without any
// recognizable notation yields an all-sentinel record.
func (e *TaggedExtractor) Extract(_ context.Context, desc *workflow.CommandDescriptor, text string) (workflow.ParameterRecord, error) {
	rec := blankRecord(desc)
	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		raw, ok := e.tagValue(text, f.Name)
		if !ok {
			raw, ok = e.pairValue(text, f.Name)
		}
		if !ok {
			continue
		}
		if v, err := workflow.Coerce(f, raw); err == nil {
			rec[f.Name] = v
		}
	}
	return rec, nil
}

// tagValue finds <name>value</name>, tolerating case and newlines inside the
// value.
func (e *TaggedExtractor) tagValue(text, name string) (string, bool) {
	re := e.pattern("tag:"+name, `(?is)<`+regexp.QuoteMeta(name)+`>(.*?)</`+regexp.QuoteMeta(name)+`>`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// pairValue finds name=value with an optionally quoted value.
func (e *TaggedExtractor) pairValue(text, name string) (string, bool) {
	re := e.pattern("pair:"+name, `(?i)(?:^|[\s(,])`+regexp.QuoteMeta(name)+`\s*=\s*("[^"]*"|'[^']*'|\[[^\]]*\]|[^\s,)]+)`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	v := m[1]
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') {
		v = v[1 : len(v)-1]
	}
	return strings.TrimSpace(v), true
}

// pattern compiles and memoizes a field regexp. Field names are quoted into
// the expression, so compilation cannot fail at runtime.
func (e *TaggedExtractor) pattern(key, expr string) *regexp.Regexp {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.res == nil {
		e.res = make(map[string]*regexp.Regexp)
	}
	if re, ok := e.res[key]; ok {
		return re
	}
	re := regexp.MustCompile(expr)
	e.res[key] = re
	return re
}
