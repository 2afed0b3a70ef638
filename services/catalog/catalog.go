// Package catalog is the read-only index of models already present on
// this node. The resolver's local tier scans it synchronously; indexing
// of files on disk is someone else's job, entries arrive here fully
// described.
package catalog

import (
	"strings"
	"sync"
)

// Well-known handler names, one per model kind the pipeline understands.
const (
	HandlerStableDiffusion = "Stable-Diffusion"
	HandlerLoRA            = "LoRA"
	HandlerVAE             = "VAE"
	HandlerEmbedding       = "Embedding"
	HandlerControlNet      = "ControlNet"
)

// Entry is one locally available model file.
type Entry struct {
	Key    string `db:"key"`
	Name   string `db:"name"`
	Path   string `db:"path"`
	SHA256 string `db:"sha256"`
}

// Handler holds the entries of one model kind. Iteration during matching
// follows insertion order, which keeps substring matches deterministic.
type Handler struct {
	name    string
	mu      sync.RWMutex
	order   []string
	entries map[string]Entry
}

// NewHandler creates an empty handler with the given catalog name.
func NewHandler(name string) *Handler {
	return &Handler{
		name:    name,
		entries: make(map[string]Entry),
	}
}

// Name reports the handler's catalog name.
func (h *Handler) Name() string { return h.name }

// Add inserts or replaces an entry keyed by Entry.Key.
func (h *Handler) Add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.entries[e.Key]; !exists {
		h.order = append(h.order, e.Key)
	}
	h.entries[e.Key] = e
}

// Len reports the number of entries.
func (h *Handler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Entries returns a snapshot of all entries in insertion order.
func (h *Handler) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Entry, 0, len(h.order))
	for _, key := range h.order {
		out = append(out, h.entries[key])
	}
	return out
}

// FindByHash scans for an entry whose stored hash equals sha256
// case-insensitively. First match in insertion order wins.
func (h *Handler) FindByHash(sha256 string) (Entry, bool) {
	if sha256 == "" {
		return Entry{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, key := range h.order {
		e := h.entries[key]
		if e.SHA256 != "" && strings.EqualFold(e.SHA256, sha256) {
			return e, true
		}
	}
	return Entry{}, false
}

// FindByName matches a filename against the handler: exact key first,
// then key with a ".safetensors" suffix, then a case-insensitive
// substring match on display names in insertion order.
func (h *Handler) FindByName(filename string) (Entry, bool) {
	if filename == "" {
		return Entry{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	if e, ok := h.entries[filename]; ok {
		return e, true
	}
	if !strings.HasSuffix(filename, ".safetensors") {
		if e, ok := h.entries[filename+".safetensors"]; ok {
			return e, true
		}
	}

	needle := strings.ToLower(filename)
	for _, key := range h.order {
		e := h.entries[key]
		if strings.Contains(strings.ToLower(e.Name), needle) {
			return e, true
		}
	}
	return Entry{}, false
}

// Catalog groups handlers by catalog name and maps dependency kinds onto
// them.
type Catalog struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
}

// New creates a Catalog with the standard handler set.
func New() *Catalog {
	c := &Catalog{handlers: make(map[string]*Handler)}
	for _, name := range []string{
		HandlerStableDiffusion,
		HandlerLoRA,
		HandlerVAE,
		HandlerEmbedding,
		HandlerControlNet,
	} {
		c.handlers[name] = NewHandler(name)
	}
	return c
}

// Handler returns the handler with the given catalog name.
func (c *Catalog) Handler(name string) (*Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[name]
	return h, ok
}

// ForKind maps a dependency kind onto its handler. Unknown kinds report
// false, which fails the local tier immediately.
func (c *Catalog) ForKind(kind string) (*Handler, bool) {
	name, ok := HandlerNameForKind(kind)
	if !ok {
		return nil, false
	}
	return c.Handler(name)
}

// HandlerNameForKind translates a dependency kind into a catalog name.
func HandlerNameForKind(kind string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "checkpoint", "model":
		return HandlerStableDiffusion, true
	case "lora":
		return HandlerLoRA, true
	case "vae":
		return HandlerVAE, true
	case "embedding", "textualinversion":
		return HandlerEmbedding, true
	case "controlnet":
		return HandlerControlNet, true
	default:
		return "", false
	}
}
