package generation

import (
	"path"
	"strings"
)

// importPrefixes identify import/include lines across the languages the
// generator emits.
var importPrefixes = []string{
	"import ", "from ", "#include", "using ", "require(", "require ",
	"part ", "library ", "export '",
}

// extractImports returns the contiguous run of import lines from the top of
// the content, skipping leading blanks and comments.
func extractImports(content string) string {
	var out []string
	started := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#!") {
			if !started {
				continue
			}
			break
		}
		if isImportLine(trimmed) {
			out = append(out, line)
			started = true
			continue
		}
		break
	}
	return strings.Join(out, "\n")
}

func isImportLine(trimmed string) bool {
	for _, p := range importPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// structureKeywords open a structural declaration worth surfacing in the
// structure section.
var structureKeywords = []string{
	"class ", "func ", "function ", "def ", "void ", "Widget ",
	"interface ", "struct ", "enum ",
}

// extractStructure returns up to max structural declaration lines.
func extractStructure(content string, max int) string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, kw := range structureKeywords {
			if strings.HasPrefix(trimmed, kw) || strings.HasPrefix(trimmed, "abstract "+kw) {
				out = append(out, trimmed)
				break
			}
		}
		if len(out) >= max {
			break
		}
	}
	return strings.Join(out, "\n")
}

// languageFor maps a file path to a display language.
func languageFor(p string) string {
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
	case ".html":
		return "html"
	case ".css":
		return "css"
	case ".md":
		return "markdown"
	case ".sql":
		return "sql"
	default:
		return "text"
	}
}
