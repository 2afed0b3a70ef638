// Package resolver turns a parsed dependency into a locally usable model
// by trying resolution tiers in a fixed priority order: the local
// catalog, then peer nodes, then the external registry.
package resolver

import (
	"context"

	"github.com/rs/zerolog"

	"modelscout/services/catalog"
	"modelscout/services/prompts"
)

// Resolution sources reported on resolved dependencies.
const (
	SourceLocal    = "local"
	SourceRemote   = "remote"
	SourceRegistry = "registry"
)

// State tags a tier outcome.
type State int

const (
	// Unresolved means the tier had nothing; the next tier runs.
	Unresolved State = iota
	// Resolved means a usable local file exists at Outcome.Path.
	Resolved
	// Scheduled means the source holds the model and a download has
	// been arranged; no further tier runs.
	Scheduled
	// Denied means the dependency is conclusively rejected (policy or
	// broken metadata); no further tier runs.
	Denied
)

// Outcome is the tagged result of one tier, kept separate from the
// mutable job record so tier logic stays testable in isolation.
type Outcome struct {
	State    State
	Path     string
	Source   string
	Filename string
	Reason   string
}

// ResolvedAt builds a Resolved outcome.
func ResolvedAt(path, source string) Outcome {
	return Outcome{State: Resolved, Path: path, Source: source}
}

// ScheduledFrom builds a Scheduled outcome carrying the source's display
// name for the download subsystem.
func ScheduledFrom(source, filename string) Outcome {
	return Outcome{State: Scheduled, Source: source, Filename: filename}
}

// Deny builds a Denied outcome.
func Deny(reason string) Outcome {
	return Outcome{State: Denied, Reason: reason}
}

// None is the empty Unresolved outcome.
func None() Outcome { return Outcome{} }

// Remote resolves dependencies from peer nodes. The federation protocol
// is not built yet, but the tier slot is load-bearing: local always runs
// first, remote second, the registry last.
type Remote interface {
	Resolve(ctx context.Context, dep prompts.Dependency) (Outcome, error)
}

// NoopRemote is the default Remote: it never resolves anything.
type NoopRemote struct{}

func (NoopRemote) Resolve(context.Context, prompts.Dependency) (Outcome, error) {
	return None(), nil
}

// Registry resolves dependencies from the external model registry using
// the calling user's API key.
type Registry interface {
	Resolve(ctx context.Context, apiKey string, dep prompts.Dependency) (Outcome, error)
}

// Tiered runs the Local → Remote → Registry chain. The first tier to
// report anything other than Unresolved short-circuits the rest.
type Tiered struct {
	catalog  *catalog.Catalog
	remote   Remote
	registry Registry
	log      zerolog.Logger
}

// NewTiered builds a Tiered resolver. A nil remote falls back to
// NoopRemote; a nil registry disables the registry tier.
func NewTiered(cat *catalog.Catalog, remote Remote, registry Registry, log zerolog.Logger) *Tiered {
	if remote == nil {
		remote = NoopRemote{}
	}
	return &Tiered{catalog: cat, remote: remote, registry: registry, log: log}
}

// Resolve runs the tier chain for one dependency. Tier errors are
// logged and treated as "not resolved here"; they never abort the chain.
func (t *Tiered) Resolve(ctx context.Context, apiKey string, dep prompts.Dependency) Outcome {
	if out, ok := t.resolveLocal(dep); ok {
		return out
	}

	out, err := t.remote.Resolve(ctx, dep)
	if err != nil {
		t.log.Warn().Err(err).Str("reference", dep.Reference).Msg("remote tier failed")
	} else if out.State != Unresolved {
		return out
	}

	if t.registry != nil {
		out, err = t.registry.Resolve(ctx, apiKey, dep)
		if err != nil {
			t.log.Warn().Err(err).Str("reference", dep.Reference).Msg("registry tier failed")
		} else if out.State != Unresolved {
			return out
		}
	}

	return None()
}

// resolveLocal scans the catalog handler for the dependency's kind:
// hash match first, then filename matching.
func (t *Tiered) resolveLocal(dep prompts.Dependency) (Outcome, bool) {
	if t.catalog == nil {
		return None(), false
	}
	handler, ok := t.catalog.ForKind(dep.Kind)
	if !ok {
		t.log.Debug().Str("kind", dep.Kind).Msg("no catalog handler for kind")
		return None(), false
	}

	if dep.SHA256 != "" {
		if e, ok := handler.FindByHash(dep.SHA256); ok {
			return ResolvedAt(e.Path, SourceLocal), true
		}
	}
	if dep.Filename != "" {
		if e, ok := handler.FindByName(dep.Filename); ok {
			return ResolvedAt(e.Path, SourceLocal), true
		}
	}
	return None(), false
}
