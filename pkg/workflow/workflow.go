// Package workflow loads and serves the static shape of a workflow: its
// context inheritance DAG, the commands available in each context, and each
// command's parameter schema and utterance metadata.
//
// A workflow is a directory with a _commands/ tree. Top-level JSON files
// declare global commands (context "*"); subdirectories declare per-context
// commands. context_inheritance_model.json at the workflow root declares how
// contexts inherit from one another. Definitions are immutable after loading
// and safe for concurrent readers.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// commandsDir is the directory inside a workflow root that holds command
// descriptor files.
const commandsDir = "_commands"

// inheritanceFile declares the context inheritance DAG at the workflow root.
const inheritanceFile = "context_inheritance_model.json"

// Definition is the loaded, immutable shape of one workflow.
type Definition struct {
	// Root is the resolved absolute path of the workflow folder.
	Root string

	// Contexts is the inheritance DAG over context names.
	Contexts *ContextModel

	commands  map[string]*CommandDescriptor // keyed by qualified name
	byContext map[string][]string           // context → sorted own qualified names
}

// Command returns the descriptor registered under the qualified name.
func (d *Definition) Command(qualifiedName string) (*CommandDescriptor, bool) {
	c, ok := d.commands[qualifiedName]
	return c, ok
}

// QualifiedNames returns all registered qualified command names, sorted.
func (d *Definition) QualifiedNames() []string {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CommandsFor returns the qualified command names available in contextName:
// the context's own commands plus everything inherited from its ancestors up
// to the root "*". Built-ins live in "*" and are therefore always included.
// The result is sorted and deduplicated.
func (d *Definition) CommandsFor(contextName string) []string {
	if contextName == "" {
		contextName = RootContext
	}
	seen := make(map[string]struct{})
	var names []string
	add := func(ctx string) {
		for _, name := range d.byContext[ctx] {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	add(contextName)
	for _, anc := range d.Contexts.Ancestors(contextName) {
		add(anc)
	}
	slices.Sort(names)
	return names
}

// OwnCommands returns the commands declared directly in contextName, without
// inherited ones. Sorted.
func (d *Definition) OwnCommands(contextName string) []string {
	own := d.byContext[contextName]
	out := make([]string, len(own))
	copy(out, own)
	return out
}

// SplitQualified splits a qualified command name into its context and bare
// command parts. Names without a "/" separator are global ("*").
func SplitQualified(qualifiedName string) (contextName, command string) {
	if i := strings.LastIndex(qualifiedName, "/"); i >= 0 {
		return qualifiedName[:i], qualifiedName[i+1:]
	}
	return RootContext, qualifiedName
}

// Qualify joins a context name and a bare command name. Global commands keep
// their bare name.
func Qualify(contextName, command string) string {
	if contextName == "" || contextName == RootContext {
		return command
	}
	return contextName + "/" + command
}

// Loader loads workflow definitions with a write-once cache keyed by resolved
// absolute path. Safe for concurrent use.
type Loader struct {
	mu    sync.Mutex
	cache map[string]*Definition
}

// NewLoader returns an empty Loader.
func NewLoader() *Loader {
	return &Loader{cache: make(map[string]*Definition)}
}

// Load reads and validates the workflow at folderpath. Results are memoized
// per resolved absolute path; concurrent callers for the same path share one
// load. Failed loads are not cached so a fixed workflow can be retried.
func (l *Loader) Load(folderpath string) (*Definition, error) {
	abs, err := filepath.Abs(folderpath)
	if err != nil {
		return nil, fmt.Errorf("workflow: resolve path %q: %w", folderpath, err)
	}
	abs = filepath.Clean(abs)

	l.mu.Lock()
	defer l.mu.Unlock()
	if def, ok := l.cache[abs]; ok {
		return def, nil
	}

	def, err := load(abs)
	if err != nil {
		return nil, err
	}
	l.cache[abs] = def
	return def, nil
}

// load performs the actual directory walk and validation.
func load(root string) (*Definition, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("workflow: stat %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workflow: %q is not a directory", root)
	}

	cmdRoot := filepath.Join(root, commandsDir)
	if _, err := os.Stat(cmdRoot); err != nil {
		return nil, fmt.Errorf("workflow: %q has no %s directory: %w", root, commandsDir, err)
	}

	def := &Definition{
		Root:      root,
		commands:  make(map[string]*CommandDescriptor),
		byContext: make(map[string][]string),
	}

	var discovered []string // context names seen under _commands/

	entries, err := os.ReadDir(cmdRoot)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %q: %w", cmdRoot, err)
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "_") {
			continue // reserved entries such as ___convo_info
		}
		if e.IsDir() {
			discovered = append(discovered, name)
			if err := loadContextDir(def, filepath.Join(cmdRoot, name), name); err != nil {
				return nil, err
			}
			continue
		}
		if filepath.Ext(name) != ".json" {
			continue
		}
		if err := loadCommandFile(def, filepath.Join(cmdRoot, name), RootContext); err != nil {
			return nil, err
		}
	}

	// Built-ins live in the root context so every context inherits them.
	for _, b := range builtinDescriptors() {
		if _, dup := def.commands[b.QualifiedName]; dup {
			return nil, fmt.Errorf("workflow: command %q shadows a built-in", b.QualifiedName)
		}
		def.commands[b.QualifiedName] = b
		def.byContext[RootContext] = append(def.byContext[RootContext], b.QualifiedName)
	}

	for ctx := range def.byContext {
		slices.Sort(def.byContext[ctx])
	}

	model, err := loadContextModel(root, discovered)
	if err != nil {
		return nil, err
	}
	def.Contexts = model

	return def, nil
}

// loadContextDir loads every command file directly inside dir as a command of
// contextName. Nested directories are rejected to keep qualified names flat.
func loadContextDir(def *Definition, dir, contextName string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("workflow: read %q: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "_") {
			continue
		}
		if e.IsDir() {
			return fmt.Errorf("workflow: %s: nested context directories are not supported", filepath.Join(dir, name))
		}
		if filepath.Ext(name) != ".json" {
			continue
		}
		if err := loadCommandFile(def, filepath.Join(dir, name), contextName); err != nil {
			return err
		}
	}
	return nil
}

// loadCommandFile parses one command descriptor JSON file and registers it.
// Any defect fails the whole load naming the offending file.
func loadCommandFile(def *Definition, path, contextName string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("workflow: read %s: %w", path, err)
	}

	var file commandFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("workflow: parse %s: %w", path, err)
	}

	command := strings.TrimSuffix(filepath.Base(path), ".json")
	desc := &CommandDescriptor{
		QualifiedName:      Qualify(contextName, command),
		Context:            contextName,
		Name:               command,
		DisplayName:        file.DisplayName,
		Description:        file.Description,
		Parameters:         file.Parameters,
		Utterances:         file.PlainUtterances,
		TemplateUtterances: file.TemplateUtterances,
		ExtractionExamples: file.ExtractionExamples,
	}
	if desc.DisplayName == "" {
		desc.DisplayName = command
	}

	if err := desc.compile(); err != nil {
		return fmt.Errorf("workflow: %s: %w", path, err)
	}
	desc.GeneratedUtterances = expandTemplates(desc)

	if _, dup := def.commands[desc.QualifiedName]; dup {
		return fmt.Errorf("workflow: %s: duplicate command %q", path, desc.QualifiedName)
	}
	def.commands[desc.QualifiedName] = desc
	def.byContext[contextName] = append(def.byContext[contextName], desc.QualifiedName)
	return nil
}

// loadContextModel reads context_inheritance_model.json if present and builds
// the inheritance DAG over declared plus discovered contexts.
func loadContextModel(root string, discovered []string) (*ContextModel, error) {
	path := filepath.Join(root, inheritanceFile)
	declared := make(map[string][]string)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var file map[string]contextModelEntry
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("workflow: parse %s: %w", path, err)
		}
		for name, entry := range file {
			declared[name] = entry.Base
		}
	case os.IsNotExist(err):
		// No model file: every discovered context hangs off the root.
	default:
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}

	model, err := newContextModel(declared, discovered)
	if err != nil {
		return nil, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return model, nil
}

// contextModelEntry is one context's declaration in the inheritance file.
type contextModelEntry struct {
	Base []string `json:"base"`
}
