// Package scratch holds the artifacts a single turn produces. Artifacts are
// addressed by fresh UUID keys; only the keys ever leave the turn.
package scratch

import (
	"sort"
	"sync"

	"github.com/go-go-golems/tablechat/pkg/chart"
	"github.com/go-go-golems/tablechat/pkg/tabular"
	"github.com/google/uuid"
)

// Artifact is one of *TableArtifact, *ChartArtifact or *ErrorArtifact.
type Artifact interface {
	isArtifact()
}

type TableArtifact struct {
	Table *tabular.Table
}

type ChartArtifact struct {
	Config *chart.Config
}

type ErrorArtifact struct {
	Message string
}

func (*TableArtifact) isArtifact() {}
func (*ChartArtifact) isArtifact() {}
func (*ErrorArtifact) isArtifact() {}

type Context struct {
	mu    sync.Mutex
	items map[string]Artifact
}

func New() *Context {
	return &Context{items: map[string]Artifact{}}
}

// Put stores a under a new key and returns the key.
func (c *Context) Put(a Artifact) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		key := uuid.NewString()
		if _, taken := c.items[key]; taken {
			continue
		}
		c.items[key] = a
		return key
	}
}

func (c *Context) Get(key string) (Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.items[key]
	return a, ok
}

// Table returns the table stored under key, if that artifact is a table.
func (c *Context) Table(key string) (*tabular.Table, bool) {
	a, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	t, ok := a.(*TableArtifact)
	if !ok || t.Table == nil {
		return nil, false
	}
	return t.Table, true
}

// Chart returns the chart config stored under key, if any.
func (c *Context) Chart(key string) (*chart.Config, bool) {
	a, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	ch, ok := a.(*ChartArtifact)
	if !ok || ch.Config == nil {
		return nil, false
	}
	return ch.Config, true
}

func (c *Context) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
