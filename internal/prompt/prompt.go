// Package prompt renders the per-section generation prompt (SPEC_FULL.md
// §4.11), ported from the teacher corpus's prompt_renderer.py.
package prompt

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// SystemBlock is the canonical system prompt enforcing plain-text output,
// rendered with project-level variables before section substitution.
const SystemBlock = `You are a professional academic writer. You will write ONLY the content of ONE section of a document.
IMPORTANT: formatting (headings, cover page, styles, page breaks, indices) is handled by the document renderer. Do NOT format.

PROJECT DATA:
- Title: {{title}}
- Topic: {{tema}}
- General objective: {{objetivo_general}}
- Population: {{poblacion}}
- Independent variable: {{variable_independiente}}

SECTION TO WRITE:
- Section name/path: {section_path}
- Internal identifier: {section_id}

MANDATORY RULES (if not followed, the output is considered incorrect):
1) Return ONLY plain text. Do NOT use Markdown (no bold, no headings, no dash lists, no pipe tables).
2) Do NOT write the section title. The title is already set by the format. Start directly with the content.
3) Do NOT insert page breaks or stray control characters. No ---, ***, or form feeds. Do not start with blank lines.
4) Paragraphs: use normal paragraphs separated by ONE blank line. Do not break lines every few words within a paragraph.
5) Never fabricate an INDEX in the text (no manual table of contents, no index-style numbering).
6) If the section is an index section (INDEX, TABLE OF TABLES, TABLE OF FIGURES, LIST OF ABBREVIATIONS, or any path starting with an index heading), respond with EXACTLY: <<SKIP_SECTION>>.
7) Do not use placeholders like FIGURA DE EJEMPLO, TABLA DE EJEMPLO, XXX, [pending], lorem ipsum, PROJECT TITLE.
   - To reference a figure, write only the caption text: Figure X. (Brief description). Source: own elaboration.
8) Keep an academic tone. Use connectors and avoid filler.
9) Minimum 180-250 words for content sections (introduction, problem statement, framework, methodology, etc.).
10) No irregular indentation or double spaces. At most one blank line between paragraphs.

Now write the section {section_path}, following ALL of the above.
`

// RenderResult carries the rendered text plus the variable names that were
// referenced but missing from values, for trace emission by the caller.
type RenderResult struct {
	Text    string
	Missing []string
}

// Render substitutes {{varName}} placeholders from values. Missing
// variables are left in place and reported via RenderResult.Missing.
func Render(template string, values map[string]string) RenderResult {
	if template == "" {
		return RenderResult{}
	}

	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := values[key]; ok && v != "" {
			return v
		}
		missing = append(missing, key)
		return match
	})

	return RenderResult{Text: out, Missing: missing}
}

// BuildSectionPrompt assembles the final prompt for one section: the
// rendered system block, an optional project-context block, and an optional
// section-specific hint.
func BuildSectionPrompt(basePrompt, sectionPath, sectionID, extraContext string, values map[string]string) (string, []string) {
	rendered := Render(SystemBlock, values)
	system := strings.ReplaceAll(rendered.Text, "{section_path}", sectionPath)
	system = strings.ReplaceAll(system, "{section_id}", sectionID)

	parts := []string{system}

	if strings.TrimSpace(basePrompt) != "" {
		parts = append(parts, "", "PROJECT ADDITIONAL CONTEXT:", strings.TrimSpace(basePrompt))
	}

	if extraContext != "" {
		parts = append(parts, "", "Section-specific context: "+extraContext)
	}

	return strings.Join(parts, "\n"), rendered.Missing
}
