package validate

import (
	"strings"
	"testing"
)

func TestSanitizeContentStripsCodeFencesAndMarkdown(t *testing.T) {
	out := SanitizeContent("```go\ncode\n```\n**bold** __also__ normal text | with pipe", "Capitulo 1")
	if strings.Contains(out, "```") || strings.Contains(out, "**") || strings.Contains(out, "__") || strings.Contains(out, "|") {
		t.Fatalf("expected markdown markers stripped, got %q", out)
	}
}

func TestSanitizeContentReturnsEmptyForSkipToken(t *testing.T) {
	if got := SanitizeContent("<<SKIP_SECTION>>", "Capitulo 1"); got != "" {
		t.Fatalf("expected empty string for skip token, got %q", got)
	}
}

func TestSanitizeContentReturnsEmptyForIndexPath(t *testing.T) {
	if got := SanitizeContent("Some real looking content here.", "Indice de Tablas/Tabla 1"); got != "" {
		t.Fatalf("expected empty string for TOC path, got %q", got)
	}
}

func TestSanitizeContentDropsForbiddenPhraseLines(t *testing.T) {
	out := SanitizeContent("Primera linea valida.\nFIGURA DE EJEMPLO\nSegunda linea valida.", "Capitulo 1")
	if strings.Contains(out, "FIGURA DE EJEMPLO") {
		t.Fatalf("expected forbidden phrase line dropped, got %q", out)
	}
	if !strings.Contains(out, "Primera linea valida.") || !strings.Contains(out, "Segunda linea valida.") {
		t.Fatalf("expected surrounding valid lines preserved, got %q", out)
	}
}

func TestSanitizeContentStripsLeaderDotsAndPageNumbers(t *testing.T) {
	out := SanitizeContent("INDICE DE TABLAS ..... 28", "Capitulo 1")
	if strings.Contains(out, "28") {
		t.Fatalf("expected trailing page number stripped, got %q", out)
	}
}

func TestSanitizeContentCollapsesBlankLines(t *testing.T) {
	out := SanitizeContent("Linea uno.\n\n\n\nLinea dos.", "Capitulo 1")
	if strings.Contains(out, "\n\n\n") {
		t.Fatalf("expected consecutive blank lines collapsed, got %q", out)
	}
}

func TestSanitizeContentNormalizesAbbreviations(t *testing.T) {
	out := SanitizeContent("UNAC: Universidad Nacional del Callao\nProducto Bruto Interno (PBI)", "Preliminares/Abreviaturas")
	if !strings.Contains(out, "UNAC\tUniversidad Nacional del Callao") {
		t.Fatalf("expected colon-form abbreviation normalized, got %q", out)
	}
	if !strings.Contains(out, "PBI\tProducto Bruto Interno") {
		t.Fatalf("expected paren-form abbreviation normalized, got %q", out)
	}
}

func TestValidateSectionsAssignsMissingSectionID(t *testing.T) {
	res, err := ValidateSections([]RawSection{{Path: "Capitulo 1", Content: "Contenido suficientemente largo para pasar."}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sections[0].SectionID != "sec-auto-0000" {
		t.Fatalf("expected auto-assigned id, got %q", res.Sections[0].SectionID)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning about missing sectionId")
	}
}

func TestValidateSectionsDropsTOCSections(t *testing.T) {
	res, err := ValidateSections([]RawSection{
		{SectionID: "sec-0001", Path: "Indice de Tablas", Content: "whatever"},
		{SectionID: "sec-0002", Path: "Capitulo 1", Content: "Contenido suficientemente largo para pasar la validacion."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Sections) != 1 || res.Sections[0].SectionID != "sec-0002" {
		t.Fatalf("expected only the non-TOC section to survive, got %+v", res.Sections)
	}
}

func TestValidateSectionsDeduplicatesSectionID(t *testing.T) {
	res, err := ValidateSections([]RawSection{
		{SectionID: "dup", Path: "A", Content: "Contenido suficientemente largo para pasar la validacion uno."},
		{SectionID: "dup", Path: "B", Content: "Contenido suficientemente largo para pasar la validacion dos."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sections[1].SectionID == "dup" {
		t.Fatalf("expected second duplicate id renamed, got %+v", res.Sections)
	}
}

func TestValidateSectionsReturnsErrorWhenAllDropped(t *testing.T) {
	_, err := ValidateSections([]RawSection{{SectionID: "sec-0001", Path: "Indice", Content: "x"}})
	if err != ErrInvalidResult {
		t.Fatalf("expected ErrInvalidResult, got %v", err)
	}
}

func TestValidateSectionsRejectsEmptyInput(t *testing.T) {
	_, err := ValidateSections(nil)
	if err == nil {
		t.Fatal("expected error for empty input")
	}
}
