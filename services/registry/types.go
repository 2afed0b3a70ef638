// Package registry adapts the external CivitAI model registry: version
// lookups by hash or id, the license-policy gate, and download-URL
// extraction. It is the resolution tier of last resort.
package registry

import (
	"fmt"
	"strings"
)

// ModelVersion is the subset of the registry's model-version response
// the pipeline consumes.
type ModelVersion struct {
	Name        string      `json:"name"`
	DownloadURL string      `json:"downloadUrl"`
	Model       ModelInfo   `json:"model"`
	Files       []ModelFile `json:"files"`
}

// ModelInfo carries the parent model's license metadata.
// allowCommercialUse arrives as a string, bool, or list depending on the
// registry's mood, so it stays loosely typed.
type ModelInfo struct {
	Name               string `json:"name"`
	AllowCommercialUse any    `json:"allowCommercialUse"`
}

// ModelFile is one downloadable file of a model version.
type ModelFile struct {
	Name        string `json:"name"`
	Primary     bool   `json:"primary"`
	DownloadURL string `json:"downloadUrl"`
}

// HasCommercialUse reports whether the response carried a license flag
// at all. Versions without one are not license-gated.
func (v *ModelVersion) HasCommercialUse() bool {
	return v.Model.AllowCommercialUse != nil
}

// CommercialUse renders the license flag as a lowercase token.
func (v *ModelVersion) CommercialUse() string {
	if v.Model.AllowCommercialUse == nil {
		return ""
	}
	if s, ok := v.Model.AllowCommercialUse.(string); ok {
		return strings.ToLower(s)
	}
	return strings.ToLower(fmt.Sprint(v.Model.AllowCommercialUse))
}

// PrimaryDownloadURL extracts the download URL for a model version:
// the file flagged primary, else the sole file, else the top-level
// downloadUrl, else "".
func PrimaryDownloadURL(v *ModelVersion) string {
	if v == nil {
		return ""
	}
	for _, f := range v.Files {
		if (f.Primary || len(v.Files) == 1) && f.DownloadURL != "" {
			return f.DownloadURL
		}
	}
	return v.DownloadURL
}
