// Package builtin holds the shell's in-process command table: the
// name-to-binding map consulted before any fork, and the commands it
// dispatches to.
package builtin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mash-shell/mash/internal/job"
)

// Kind tags what a table binding is. Command is the only kind today;
// the tag keeps future non-executable bindings (aliases, functions)
// distinguishable from commands at the type level rather than by
// convention at each call site.
type Kind int

const (
	KindCommand Kind = iota
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Func runs a builtin in-process. It must perform I/O through the
// process's fd table, not the shell's own std streams, so redirected
// builtins behave like redirected externals.
type Func func(p *job.Process) int

// Binding associates a kind with the function behind a name.
type Binding struct {
	Kind Kind
	Run  Func
}

// IsCommand is the lookup filter used by the launcher: only command
// bindings may be executed as pipeline stages.
func IsCommand(b Binding) bool {
	return b.Kind == KindCommand
}

// Table maps names to bindings. It is populated once at startup and
// read-only afterwards; lookups never mutate it.
type Table struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{bindings: make(map[string]Binding)}
}

// Register adds or replaces a binding. Called during startup only.
func (t *Table) Register(name string, b Binding) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings[name] = b
}

// Lookup returns the binding for name if one exists and the match
// filter accepts it. A nil filter matches any binding.
func (t *Table) Lookup(name string, match func(Binding) bool) (Binding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bindings[name]
	if !ok {
		return Binding{}, false
	}
	if match != nil && !match(b) {
		return Binding{}, false
	}
	return b, true
}

// Names returns all bound names in sorted order.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.bindings))
	for name := range t.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
