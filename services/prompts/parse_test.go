package prompts

import (
	"reflect"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{
			name:    "nil payload",
			payload: nil,
			want:    FormatUnknown,
		},
		{
			name:    "native image params",
			payload: map[string]any{"sui_image_params": map[string]any{}},
			want:    FormatNative,
		},
		{
			name:    "native models only",
			payload: map[string]any{"sui_models": []any{}},
			want:    FormatNative,
		},
		{
			name:    "node graph via nodes key",
			payload: map[string]any{"nodes": []any{}},
			want:    FormatNodeGraph,
		},
		{
			name:    "node graph via workflow key",
			payload: map[string]any{"workflow": map[string]any{}},
			want:    FormatNodeGraph,
		},
		{
			name: "node graph via class_type child",
			payload: map[string]any{
				"4": map[string]any{"class_type": "CheckpointLoaderSimple"},
			},
			want: FormatNodeGraph,
		},
		{
			name:    "flat settings via checkpoint key",
			payload: map[string]any{"sd_model_checkpoint": "model.safetensors"},
			want:    FormatFlatSettings,
		},
		{
			name:    "flat settings via overrides",
			payload: map[string]any{"override_settings": map[string]any{}},
			want:    FormatFlatSettings,
		},
		{
			name: "native wins over node graph markers",
			payload: map[string]any{
				"sui_image_params": map[string]any{},
				"nodes":            []any{},
			},
			want: FormatNative,
		},
		{
			name:    "unknown",
			payload: map[string]any{"prompt": "a cat"},
			want:    FormatUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.payload); got != tt.want {
				t.Fatalf("DetectFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewDependency(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Dependency
	}{
		{
			name: "sha256 reference",
			raw:  "sha256:AB12cd34",
			want: Dependency{Kind: "checkpoint", Reference: "sha256:AB12cd34", SHA256: "AB12cd34"},
		},
		{
			name: "registry version reference",
			raw:  "registry:version:77",
			want: Dependency{Kind: "checkpoint", Reference: "registry:version:77", RegistryVersionID: "77"},
		},
		{
			name: "uppercase prefix",
			raw:  "SHA256:ff00",
			want: Dependency{Kind: "checkpoint", Reference: "SHA256:ff00", SHA256: "ff00"},
		},
		{
			name: "plain filename",
			raw:  "  foo.safetensors ",
			want: Dependency{Kind: "checkpoint", Reference: "foo.safetensors", Filename: "foo.safetensors"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewDependency("checkpoint", tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("NewDependency() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseNative(t *testing.T) {
	payload := map[string]any{
		"sui_image_params": map[string]any{
			"model":      "dreamshaper.safetensors",
			"vae":        "Automatic",
			"loras":      "styleA, styleB",
			"embeddings": "easyneg",
		},
		"sui_models": []any{
			map[string]any{
				"name":  "dreamshaper.safetensors",
				"param": "model",
				"hash":  "sha256:deadbeef",
			},
			map[string]any{
				"name": "extra.ckpt",
			},
		},
	}

	deps := Parse(payload, FormatAuto)

	wantRefs := []string{
		"dreamshaper.safetensors",
		"styleA",
		"styleB",
		"easyneg",
		"dreamshaper.safetensors",
		"extra.ckpt",
	}
	if len(deps) != len(wantRefs) {
		t.Fatalf("got %d deps %+v, want %d", len(deps), deps, len(wantRefs))
	}
	for i, want := range wantRefs {
		if deps[i].Reference != want {
			t.Fatalf("dep[%d].Reference = %q, want %q", i, deps[i].Reference, want)
		}
	}

	for _, dep := range deps {
		if dep.Kind == "vae" {
			t.Fatalf("Automatic vae should not produce a dependency: %+v", dep)
		}
	}

	if deps[0].Kind != "checkpoint" {
		t.Fatalf("params model kind = %q, want checkpoint", deps[0].Kind)
	}
	if deps[1].Kind != "lora" || deps[2].Kind != "lora" {
		t.Fatalf("loras kinds = %q, %q, want lora", deps[1].Kind, deps[2].Kind)
	}
	if deps[4].SHA256 != "deadbeef" {
		t.Fatalf("sui_models hash not captured: %+v", deps[4])
	}
	if deps[5].Kind != "checkpoint" {
		t.Fatalf("missing param should default to checkpoint, got %q", deps[5].Kind)
	}
}

func TestParseNodeGraph(t *testing.T) {
	payload := map[string]any{
		"workflow": map[string]any{
			"10": map[string]any{
				"class_type": "LoraLoader",
				"inputs":     map[string]any{"lora_name": "styleB.safetensors"},
			},
			"2": map[string]any{
				"class_type": "CheckpointLoaderSimple",
				"inputs":     map[string]any{"ckpt_name": "base.safetensors"},
			},
			"3": map[string]any{
				"class_type": "KSampler",
				"inputs":     map[string]any{"steps": float64(20)},
			},
			"7": map[string]any{
				"class_type": "VAELoader",
				"inputs":     map[string]any{"vae_name": "orangemix.vae.pt"},
			},
		},
	}

	deps := Parse(payload, "node-graph")

	want := []Dependency{
		NewDependency("checkpoint", "base.safetensors"),
		NewDependency("vae", "orangemix.vae.pt"),
		NewDependency("lora", "styleB.safetensors"),
	}
	if !reflect.DeepEqual(deps, want) {
		t.Fatalf("Parse() = %+v, want %+v", deps, want)
	}
}

func TestParseFlatSettings(t *testing.T) {
	payload := map[string]any{
		"sd_model_checkpoint": "rootmodel.safetensors",
		"prompt":              "a castle <lora:styleA:0.8> in fog <lora:styleB>",
		"override_settings": map[string]any{
			"sd_model_checkpoint": "override.safetensors",
			"sd_vae":              "clearvae.safetensors",
		},
	}

	deps := Parse(payload, FormatFlatSettings)

	want := []Dependency{
		NewDependency("checkpoint", "rootmodel.safetensors"),
		NewDependency("checkpoint", "override.safetensors"),
		NewDependency("vae", "clearvae.safetensors"),
		NewDependency("lora", "styleA"),
		NewDependency("lora", "styleB"),
	}
	if !reflect.DeepEqual(deps, want) {
		t.Fatalf("Parse() = %+v, want %+v", deps, want)
	}
}

func TestParseFallbackChain(t *testing.T) {
	// No structural markers and a bogus hint: the first parser with any
	// output wins, later parsers never contribute.
	payload := map[string]any{
		"sui_image_params": map[string]any{"model": "native.safetensors"},
		"prompt":           "portrait <lora:ignored>",
	}

	deps := Parse(payload, "something-else")

	if len(deps) != 1 || deps[0].Reference != "native.safetensors" {
		t.Fatalf("fallback chain should stop at first non-empty result, got %+v", deps)
	}
}

func TestParseNilAndEmpty(t *testing.T) {
	if deps := Parse(nil, FormatAuto); deps != nil {
		t.Fatalf("Parse(nil) = %+v, want nil", deps)
	}
	if deps := Parse(map[string]any{}, FormatAuto); len(deps) != 0 {
		t.Fatalf("Parse(empty) = %+v, want none", deps)
	}
}

func TestNormalizeFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Node-Graph", "nodegraph"},
		{"flat_settings", "flatsettings"},
		{" AUTO ", "auto"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeFormat(tt.in); got != tt.want {
			t.Fatalf("normalizeFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
