// Package prompts extracts model asset references from image-generation
// prompt and workflow payloads. Parsing is pure: no I/O, no errors for
// malformed input, a section that cannot be understood simply yields no
// references.
package prompts

import (
	"strconv"
	"strings"
)

// Payload format names. "auto" asks the parser to detect the format from
// structural markers; anything unrecognized falls into the try-all chain.
const (
	FormatAuto         = "auto"
	FormatNative       = "native"
	FormatNodeGraph    = "nodegraph"
	FormatFlatSettings = "flatsettings"
	FormatUnknown      = "unknown"
)

// Reference prefixes understood by NewDependency.
const (
	sha256Prefix  = "sha256:"
	versionPrefix = "registry:version:"
)

// Dependency is one model asset referenced by a payload. Exactly one of
// SHA256, RegistryVersionID, or Filename is populated for a parsed
// reference; an unparseable string degrades to a best-effort Filename.
type Dependency struct {
	Kind              string
	Reference         string
	SHA256            string
	RegistryVersionID string
	Filename          string
}

// NewDependency builds a Dependency from a raw reference string,
// splitting out hash and registry-version forms.
func NewDependency(kind, raw string) Dependency {
	raw = strings.TrimSpace(raw)
	dep := Dependency{Kind: kind, Reference: raw}

	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, sha256Prefix):
		dep.SHA256 = raw[len(sha256Prefix):]
	case strings.HasPrefix(lower, versionPrefix):
		dep.RegistryVersionID = raw[len(versionPrefix):]
	default:
		dep.Filename = raw
	}
	return dep
}

// DetectFormat inspects structural markers of a payload and names its
// format. Markers are checked in priority order; payloads matching none
// report FormatUnknown.
func DetectFormat(payload map[string]any) string {
	if payload == nil {
		return FormatUnknown
	}

	if _, ok := payload["sui_image_params"]; ok {
		return FormatNative
	}
	if _, ok := payload["sui_models"]; ok {
		return FormatNative
	}

	if _, ok := payload["nodes"]; ok {
		return FormatNodeGraph
	}
	if _, ok := payload["workflow"]; ok {
		return FormatNodeGraph
	}
	for _, v := range payload {
		if child, ok := v.(map[string]any); ok {
			if _, ok := child["class_type"]; ok {
				return FormatNodeGraph
			}
		}
	}

	if _, ok := payload["sd_model_checkpoint"]; ok {
		return FormatFlatSettings
	}
	if _, ok := payload["override_settings"]; ok {
		return FormatFlatSettings
	}

	return FormatUnknown
}

// Parse extracts dependencies from a payload. When formatHint is "auto"
// the format is detected first; a hint naming a known format skips
// detection; anything else tries native, then node-graph, then
// flat-settings and returns the first non-empty result.
func Parse(payload map[string]any, formatHint string) []Dependency {
	if payload == nil {
		return nil
	}

	format := normalizeFormat(formatHint)
	if format == FormatAuto {
		format = DetectFormat(payload)
	}

	switch format {
	case FormatNative:
		return parseNative(payload)
	case FormatNodeGraph:
		return parseNodeGraph(payload)
	case FormatFlatSettings:
		return parseFlatSettings(payload)
	}

	// Unknown or unrecognized hint: first-match-wins, not a union.
	if deps := parseNative(payload); len(deps) > 0 {
		return deps
	}
	if deps := parseNodeGraph(payload); len(deps) > 0 {
		return deps
	}
	return parseFlatSettings(payload)
}

func normalizeFormat(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	return strings.ReplaceAll(strings.ReplaceAll(hint, "-", ""), "_", "")
}

// stringValue renders a scalar JSON value the way it would appear as a
// model name. Non-scalars yield "".
func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func childMap(payload map[string]any, key string) (map[string]any, bool) {
	child, ok := payload[key].(map[string]any)
	return child, ok
}
