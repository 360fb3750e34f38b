package generation

import (
	"strings"
	"time"

	"appkernel/internal/config"
)

// Authored delays for the learning pace. Overridable through config; a zero
// override keeps the authored value, so tests set every field explicitly.
const (
	defaultAnnounce      = 1500 * time.Millisecond
	defaultSection       = 1800 * time.Millisecond
	defaultLineShort     = 500 * time.Millisecond
	defaultLineMedium    = 600 * time.Millisecond
	defaultLineLong      = 800 * time.Millisecond
	defaultLineVeryLong  = 1000 * time.Millisecond
	defaultLineImportant = 400 * time.Millisecond
)

// pacing resolves configured overrides against the authored defaults.
type pacing struct {
	announce      time.Duration
	section       time.Duration
	lineShort     time.Duration
	lineMedium    time.Duration
	lineLong      time.Duration
	lineVeryLong  time.Duration
	lineImportant time.Duration
}

func newPacing(cfg config.PacingConfig) pacing {
	p := pacing{
		announce:      defaultAnnounce,
		section:       defaultSection,
		lineShort:     defaultLineShort,
		lineMedium:    defaultLineMedium,
		lineLong:      defaultLineLong,
		lineVeryLong:  defaultLineVeryLong,
		lineImportant: defaultLineImportant,
	}
	if cfg.Announce > 0 {
		p.announce = cfg.Announce
	}
	if cfg.Section > 0 {
		p.section = cfg.Section
	}
	if cfg.LineShort > 0 {
		p.lineShort = cfg.LineShort
	}
	if cfg.LineMedium > 0 {
		p.lineMedium = cfg.LineMedium
	}
	if cfg.LineLong > 0 {
		p.lineLong = cfg.LineLong
	}
	if cfg.LineVeryLong > 0 {
		p.lineVeryLong = cfg.LineVeryLong
	}
	if cfg.LineImportant > 0 {
		p.lineImportant = cfg.LineImportant
	}
	return p
}

// instant is the zero pace used by tests.
func instantPacing() pacing { return pacing{} }

// forLine returns the delay budget for one written line.
func (p pacing) forLine(line string) time.Duration {
	var d time.Duration
	switch n := len(line); {
	case n < 30:
		d = p.lineShort
	case n < 60:
		d = p.lineMedium
	case n < 100:
		d = p.lineLong
	default:
		d = p.lineVeryLong
	}
	if isImportantLine(line) {
		d += p.lineImportant
	}
	return d
}

// importantKeywords mark lines that open a structural construct and warrant
// an explanation emission.
var importantKeywords = map[string]bool{
	"class": true, "function": true, "def": true, "void": true,
	"Widget": true, "return": true, "if": true, "for": true,
	"while": true, "try": true, "catch": true, "async": true,
}

func isImportantLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.Contains(trimmed, "@override") {
		return true
	}
	fields := strings.Fields(trimmed)
	for i, f := range fields {
		if i > 1 {
			break
		}
		if importantKeywords[strings.TrimRight(f, "(:{")] {
			return true
		}
	}
	return false
}
