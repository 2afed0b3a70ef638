package prompts

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// loraTagPattern matches <lora:NAME> and <lora:NAME:WEIGHT> tags inside
// prompt text. The name runs up to the first ':' or '>'.
var loraTagPattern = regexp.MustCompile(`<lora:([^:>]+)(?::[\d.]+)?>`)

// parseNative reads the generator's own metadata format: an
// sui_image_params object plus an optional sui_models array.
func parseNative(payload map[string]any) []Dependency {
	var deps []Dependency

	if params, ok := childMap(payload, "sui_image_params"); ok {
		if model := stringValue(params["model"]); model != "" {
			deps = append(deps, NewDependency("checkpoint", model))
		}
		if vae := stringValue(params["vae"]); vae != "" && vae != "Automatic" {
			deps = append(deps, NewDependency("vae", vae))
		}
		deps = append(deps, splitList("lora", stringValue(params["loras"]))...)
		deps = append(deps, splitList("embedding", stringValue(params["embeddings"]))...)
	}

	if models, ok := payload["sui_models"].([]any); ok {
		for _, item := range models {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name := stringValue(entry["name"])
			if name == "" {
				continue
			}
			param := stringValue(entry["param"])
			if param == "" {
				param = "checkpoint"
			}
			dep := NewDependency(param, name)
			if hash := stringValue(entry["hash"]); strings.HasPrefix(hash, sha256Prefix) {
				dep.SHA256 = hash[len(sha256Prefix):]
			}
			deps = append(deps, dep)
		}
	}

	return deps
}

// loaderInputs maps a node class-type substring to the kind of asset it
// loads and the input field naming the asset. Order matters: the first
// matching substring wins.
var loaderInputs = []struct {
	classSubstring string
	kind           string
	input          string
}{
	{"checkpointloader", "checkpoint", "ckpt_name"},
	{"loraloader", "lora", "lora_name"},
	{"vaeloader", "vae", "vae_name"},
	{"controlnet", "controlnet", "control_net_name"},
	{"embedding", "embedding", "embedding_name"},
}

// parseNodeGraph walks a node-graph workflow (nested under "workflow" or
// at the root) and reads model names out of known loader node types.
// Nodes are visited in stable key order since JSON objects decode into
// unordered maps.
func parseNodeGraph(payload map[string]any) []Dependency {
	graph := payload
	if wf, ok := childMap(payload, "workflow"); ok {
		graph = wf
	}

	keys := make([]string, 0, len(graph))
	for k := range graph {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return nodeKeyLess(keys[i], keys[j]) })

	var deps []Dependency
	for _, key := range keys {
		node, ok := graph[key].(map[string]any)
		if !ok {
			continue
		}
		classType := strings.ToLower(stringValue(node["class_type"]))
		if classType == "" {
			continue
		}
		inputs, ok := childMap(node, "inputs")
		if !ok {
			continue
		}
		for _, loader := range loaderInputs {
			if !strings.Contains(classType, loader.classSubstring) {
				continue
			}
			if name := stringValue(inputs[loader.input]); name != "" {
				deps = append(deps, NewDependency(loader.kind, name))
			}
			break
		}
	}

	return deps
}

// parseFlatSettings reads the flat key/value export format: top-level
// sd_model_checkpoint, an override_settings object, and <lora:...> tags
// embedded in the prompt text.
func parseFlatSettings(payload map[string]any) []Dependency {
	var deps []Dependency

	if model := stringValue(payload["sd_model_checkpoint"]); model != "" {
		deps = append(deps, NewDependency("checkpoint", model))
	}

	if overrides, ok := childMap(payload, "override_settings"); ok {
		// Root and override checkpoints intentionally both survive;
		// duplicates are resolved independently downstream.
		if model := stringValue(overrides["sd_model_checkpoint"]); model != "" {
			deps = append(deps, NewDependency("checkpoint", model))
		}
		if vae := stringValue(overrides["sd_vae"]); vae != "" && vae != "Automatic" {
			deps = append(deps, NewDependency("vae", vae))
		}
	}

	if prompt := stringValue(payload["prompt"]); prompt != "" {
		for _, match := range loraTagPattern.FindAllStringSubmatch(prompt, -1) {
			deps = append(deps, NewDependency("lora", match[1]))
		}
	}

	return deps
}

func splitList(kind, list string) []Dependency {
	if list == "" {
		return nil
	}
	var deps []Dependency
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		deps = append(deps, NewDependency(kind, item))
	}
	return deps
}

// nodeKeyLess orders numeric node ids numerically and everything else
// lexically, so graphs keyed "2", "10" keep author order.
func nodeKeyLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	if errA == nil {
		return true
	}
	if errB == nil {
		return false
	}
	return a < b
}
