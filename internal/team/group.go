package team

import (
	"path"
	"strings"

	"appkernel/internal/generation"
)

// groupFor infers the file group from the plan's explicit type first, then
// from keywords in the path. Unrecognized files land in core.
func groupFor(entry generation.ManifestEntry) string {
	if _, ok := groupRoles[entry.Type]; ok {
		return entry.Type
	}

	p := strings.ToLower(entry.Path)
	switch {
	case strings.Contains(p, "test"):
		return "tests"
	case strings.Contains(p, "config") || strings.HasSuffix(p, ".yaml") ||
		strings.HasSuffix(p, ".yml") || strings.HasSuffix(p, "pubspec.yaml") ||
		strings.HasSuffix(p, ".toml") || strings.HasSuffix(p, ".json"):
		return "config"
	case strings.Contains(p, "model"):
		return "models"
	case strings.Contains(p, "service") || strings.Contains(p, "api") || strings.Contains(p, "repository"):
		return "services"
	case strings.Contains(p, "screen") || strings.Contains(p, "page") || strings.Contains(p, "view"):
		return "screens"
	case strings.Contains(p, "widget") || strings.Contains(p, "component"):
		return "widgets"
	case strings.Contains(p, "server") || strings.Contains(p, "backend") || strings.Contains(p, "handler"):
		return "backend"
	default:
		return "core"
	}
}

// languageOf mirrors the display-language mapping of the live engine.
func languageOf(p string) string {
	switch path.Ext(p) {
	case ".dart":
		return "dart"
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "text"
	}
}
