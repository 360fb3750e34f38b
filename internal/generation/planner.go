package generation

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// Request describes one project generation.
type Request struct {
	ProjectID   string   `json:"project_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	TechStack   []string `json:"tech_stack,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
}

// ManifestEntry is one planned file.
type ManifestEntry struct {
	Path        string `json:"path"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Planner produces the file manifest for a request.
type Planner interface {
	Plan(ctx context.Context, req Request) ([]ManifestEntry, error)
}

// Generator produces the full content of one planned file.
type Generator interface {
	GenerateFile(ctx context.Context, req Request, entry ManifestEntry) (string, error)
}

// defaultManifest is the config/core/entry skeleton used when the planning
// model returns something unparseable.
func defaultManifest() []ManifestEntry {
	return []ManifestEntry{
		{Path: "config/app_config.json", Type: "config", Description: "Application configuration"},
		{Path: "lib/core.dart", Type: "core", Description: "Core application logic"},
		{Path: "lib/main.dart", Type: "entry", Description: "Application entry point"},
	}
}

// parseManifest accepts the planner's tolerant JSON contract: a bare list of
// entries, an object with a files list, or an object keyed by path. Returns
// nil when nothing usable is found.
func parseManifest(raw string) []ManifestEntry {
	raw = stripCodeFences(raw)

	var list []ManifestEntry
	if err := json.Unmarshal([]byte(raw), &list); err == nil && len(list) > 0 && list[0].Path != "" {
		return list
	}

	var wrapper struct {
		Files []ManifestEntry `json:"files"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapper); err == nil && len(wrapper.Files) > 0 {
		return wrapper.Files
	}

	// Object keyed by path; values are either descriptions or entry objects.
	var keyed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &keyed); err == nil && len(keyed) > 0 {
		var out []ManifestEntry
		for path, val := range keyed {
			var desc string
			entry := ManifestEntry{Path: path}
			if json.Unmarshal(val, &desc) == nil {
				entry.Description = desc
			} else {
				var obj struct {
					Type        string `json:"type"`
					Description string `json:"description"`
				}
				if json.Unmarshal(val, &obj) != nil {
					continue
				}
				entry.Type = obj.Type
				entry.Description = obj.Description
			}
			out = append(out, entry)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
		if len(out) > 0 {
			return out
		}
	}

	return nil
}

// stripCodeFences removes a surrounding markdown fence if present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
