// Package validate sanitizes and validates generated section content before
// it is handed to the document renderer (SPEC_FULL.md §4.12), ported from
// the teacher corpus's content_sanitizer.py and output_validator.py.
package validate

import (
	"regexp"
	"strings"

	"github.com/gicagen/resilience-core/internal/sectionindex"
)

const skipSectionToken = "<<SKIP_SECTION>>"

// MinContentLength is the length below which sanitized content earns a
// quality warning rather than a hard rejection.
const MinContentLength = 20

var forbiddenPhrases = []string{
	"FIGURA DE EJEMPLO",
	"TABLA DE EJEMPLO",
	"TITULO DEL PROYECTO",
	"LOREM IPSUM",
	"[PENDIENTE]",
}

var (
	codeFenceBlockRe = regexp.MustCompile("(?s)```.*?```")
	headingRe        = regexp.MustCompile(`(?m)^\s*#{1,6}\s*`)
	bulletLeaderRe   = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	numberedLeaderRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)
	whitespaceRunRe  = regexp.MustCompile(`[ \t]+`)

	// leaderPageRe matches dot-leader / wide-gap page-number artefacts such
	// as "TITULO ..... 28" or "TITULO          pag 8".
	leaderPageRe = regexp.MustCompile(`(?i)(?:[.\x{2026}]{3,}|[ \t]{4,})\s*(?:pag\.?\s*)?(?:\d+|X)\s*$`)
	pagSuffixRe  = regexp.MustCompile(`(?i)\s+pag\.?\s+(?:\d+|X)\s*$`)
)

// SanitizeContent normalizes raw AI output for safe document insertion: it
// strips code fences, markdown leaders, forbidden placeholder phrases, and
// leader-dot page-number artefacts. path is used to detect TOC/index
// sections (which always sanitize to empty) and abbreviation sections
// (which get a different normalization).
func SanitizeContent(raw, path string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	if text == skipSectionToken {
		return ""
	}
	if isIndexPath(path) {
		return ""
	}

	text = codeFenceBlockRe.ReplaceAllString(raw, " ")
	text = strings.ReplaceAll(text, "```", " ")
	text = headingRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")
	text = strings.ReplaceAll(text, "|", " ")

	var cleaned []string
	for _, line := range strings.Split(text, "\n") {
		line = bulletLeaderRe.ReplaceAllString(line, "")
		line = numberedLeaderRe.ReplaceAllString(line, "")
		line = strings.TrimSpace(whitespaceRunRe.ReplaceAllString(line, " "))
		if lineHasForbiddenPhrase(line) {
			continue
		}
		cleaned = append(cleaned, line)
	}

	cleaned = collapseBlankLines(cleaned)
	if len(cleaned) == 0 {
		return ""
	}

	if isAbbreviationsPath(path) {
		if normalized := normalizeAbbreviations(cleaned); normalized != "" {
			return normalized
		}
	}

	return stripLeaderPageBlock(strings.Join(cleaned, "\n"))
}

func isIndexPath(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if sectionindex.IsTOCTitle(part) {
			return true
		}
	}
	return false
}

func isAbbreviationsPath(path string) bool {
	return strings.Contains(sectionindex.NormalizeTitle(path), "abreviaturas")
}

func lineHasForbiddenPhrase(line string) bool {
	normalized := strings.ToUpper(sectionindex.NormalizeTitle(line))
	if normalized == "" {
		return false
	}
	for _, phrase := range forbiddenPhrases {
		if strings.Contains(normalized, strings.ToUpper(sectionindex.NormalizeTitle(phrase))) {
			return true
		}
	}
	return false
}

func collapseBlankLines(lines []string) []string {
	var out []string
	prevBlank := false
	for _, line := range lines {
		blank := line == ""
		if blank {
			if prevBlank {
				continue
			}
			prevBlank = true
		} else {
			prevBlank = false
		}
		out = append(out, line)
	}
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

// abbrevLineRe matches "SIGLA: meaning" / "SIGLA - meaning" style lines.
var (
	abbrevLineRe  = regexp.MustCompile(`(?i)^\s*([\p{L}0-9]{2,})\s*(?:[:\-\x{2014}])\s*(.+?)\s*$`)
	abbrevParenRe = regexp.MustCompile(`(?i)^\s*(.+?)\s*\(([\p{L}]{2,})\)\s*$`)
	spaceRunRe    = regexp.MustCompile(`\s+`)
)

func normalizeAbbreviations(lines []string) string {
	var formatted []string
	seen := map[string]bool{}

	for _, raw := range lines {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		var sigla, meaning string
		if strings.Contains(raw, "\t") {
			parts := strings.SplitN(raw, "\t", 2)
			sigla = strings.ToUpper(strings.TrimSpace(parts[0]))
			meaning = strings.TrimSpace(parts[1])
		} else if m := abbrevLineRe.FindStringSubmatch(raw); m != nil {
			sigla = strings.ToUpper(strings.TrimSpace(m[1]))
			meaning = strings.TrimSpace(m[2])
		} else if m := abbrevParenRe.FindStringSubmatch(raw); m != nil {
			meaning = strings.TrimSpace(m[1])
			sigla = strings.ToUpper(strings.TrimSpace(m[2]))
		}

		if sigla == "" || meaning == "" {
			continue
		}
		sigla = spaceRunRe.ReplaceAllString(sigla, "")
		meaning = spaceRunRe.ReplaceAllString(meaning, " ")
		if len(sigla) < 2 || meaning == "" || seen[sigla] {
			continue
		}
		seen[sigla] = true
		formatted = append(formatted, sigla+"\t"+meaning)
	}

	return strings.Join(formatted, "\n")
}

func stripLeaderPageBlock(text string) string {
	var cleaned []string
	for _, line := range strings.Split(text, "\n") {
		line = leaderPageRe.ReplaceAllString(line, "")
		line = pagSuffixRe.ReplaceAllString(line, "")
		cleaned = append(cleaned, strings.TrimRight(line, " \t"))
	}
	return strings.Join(collapseBlankLines(cleaned), "\n")
}
