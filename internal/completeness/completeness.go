// Package completeness detects placeholder, template-variable, and
// instruction-like stub content in generated sections, and supplies
// autofill text for a small set of known boilerplate sections
// (SPEC_FULL.md §4.13), ported from the teacher corpus's
// completeness_validator.py.
package completeness

import (
	"regexp"
	"strings"
)

// IssueType classifies why a section was flagged incomplete.
type IssueType string

const (
	IssueEmpty       IssueType = "empty"
	IssuePlaceholder IssueType = "placeholder"
	IssueTemplateVar IssueType = "template_var"
	IssueInstruction IssueType = "instruction"
)

// Issue describes one incomplete section.
type Issue struct {
	SectionID string
	Path      string
	Type      IssueType
	Sample    string
}

var (
	placeholderRe = regexp.MustCompile(`(?is)\[.*?(?:escriba|complete|llene|inserte|coloque|ingrese|agregue).*?\]`)
	completarRe   = regexp.MustCompile(`(?i)\((?:Completar|Llenar|Insertar|Agregar)\b.*?\)`)
	templateVarRe = regexp.MustCompile(`(?s)\{\{.*?\}\}`)

	instructionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)escriba\s+aqu[ií]`),
		regexp.MustCompile(`(?i)complete\s+esta\s+secci[oó]n`),
		regexp.MustCompile(`(?i)inserte\s+(?:aqu[ií]|su|el|la)`),
		regexp.MustCompile(`(?i)coloque\s+(?:aqu[ií]|su|el|la)`),
		regexp.MustCompile(`(?i)ejemplo\s+de\s+(?:dedicatoria|agradecimiento)`),
		regexp.MustCompile(`(?i)reemplace\s+este\s+texto`),
		regexp.MustCompile(`(?i)(?:no\s+exceder|debe\s+contener)\s+.*palabras`),
	}
)

// Section is the minimal shape needed for detection/autofill.
type Section struct {
	SectionID string
	Path      string
	Content   string
}

// DetectPlaceholders scans sections and returns an issue for each one whose
// content looks like an empty stub, a bracketed placeholder, a template
// variable, or bare instruction text.
func DetectPlaceholders(sections []Section) []Issue {
	var issues []Issue

	for _, sec := range sections {
		content := sec.Content
		trimmed := strings.TrimSpace(content)

		if trimmed == "" {
			issues = append(issues, Issue{SectionID: sec.SectionID, Path: sec.Path, Type: IssueEmpty})
			continue
		}

		if m := placeholderRe.FindString(content); m != "" {
			issues = append(issues, Issue{SectionID: sec.SectionID, Path: sec.Path, Type: IssuePlaceholder, Sample: clip(m, 120)})
			continue
		}

		if m := completarRe.FindString(content); m != "" {
			issues = append(issues, Issue{SectionID: sec.SectionID, Path: sec.Path, Type: IssuePlaceholder, Sample: clip(m, 120)})
			continue
		}

		if m := templateVarRe.FindString(content); m != "" {
			issues = append(issues, Issue{SectionID: sec.SectionID, Path: sec.Path, Type: IssueTemplateVar, Sample: clip(m, 120)})
			continue
		}

		if len(trimmed) < 300 {
			for _, pat := range instructionPatterns {
				if pat.MatchString(trimmed) {
					issues = append(issues, Issue{SectionID: sec.SectionID, Path: sec.Path, Type: IssueInstruction, Sample: clip(trimmed, 120)})
					break
				}
			}
		}
	}

	return issues
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

var (
	dedicatoriaKeys     = map[string]bool{"dedicatoria": true}
	agradecimientoKeys  = map[string]bool{"agradecimiento": true, "agradecimientos": true}
	abreviaturasKeys    = map[string]bool{"abreviaturas": true, "abreviatura": true, "indice de abreviaturas": true, "lista de abreviaturas": true, "siglas": true, "acronimos": true, "acronicos": true}
	numberingPrefixRe   = regexp.MustCompile(`^[\divxIVX]+[.)\-]\s*`)
)

var autofillText = map[string]string{
	"dedicatoria": "Dedico este trabajo a mi familia, quienes con su apoyo incondicional " +
		"hicieron posible la culminacion de esta etapa academica. " +
		"A mis docentes, por su orientacion constante y su compromiso con la " +
		"excelencia educativa. Y a todos aquellos que, de una u otra forma, " +
		"contribuyeron a la realizacion de esta investigacion.",
	"agradecimiento": "Agradezco a Dios por haberme permitido llegar hasta este punto. " +
		"A mi familia, por su paciencia y comprension durante todo el proceso. " +
		"A mi asesor de tesis, por su guia academica y profesional. " +
		"A la universidad, por brindarme las herramientas y el entorno necesarios " +
		"para mi formacion. A mis companeros y amigos, por su apoyo y motivacion constante.",
	"abreviaturas": "No se identificaron abreviaturas relevantes en el presente documento.",
}

func classifySection(path string) string {
	norm := strings.ToLower(strings.TrimSpace(path))
	norm = strings.TrimSpace(numberingPrefixRe.ReplaceAllString(norm, ""))

	if containsAnyKey(norm, dedicatoriaKeys) {
		return "dedicatoria"
	}
	if containsAnyKey(norm, agradecimientoKeys) {
		return "agradecimiento"
	}
	if containsAnyKey(norm, abreviaturasKeys) {
		return "abreviaturas"
	}
	return ""
}

func containsAnyKey(s string, keys map[string]bool) bool {
	for k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Autofill returns replacement content for a known boilerplate section type
// (dedicatoria, agradecimiento, abreviaturas), or "" when the section type
// is unknown and no replacement text exists for it.
func Autofill(path string) string {
	category := classifySection(path)
	if category == "" {
		return ""
	}
	return autofillText[category]
}
