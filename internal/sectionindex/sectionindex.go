// Package sectionindex compiles a nested, free-form format definition into a
// flat, ordered list of section descriptors (SPEC_FULL.md §4.10), ported
// from the teacher corpus's definition_compiler.py.
package sectionindex

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Descriptor is one emitted section.
type Descriptor struct {
	SectionID string
	Path      string
	Level     int
	Kind      string
	Title     string
}

var neverEmitKeys = map[string]bool{
	"indices": true, "index": true, "table_of_contents": true, "toc": true,
}

var guidanceKeys = map[string]bool{
	"note": true, "chapter_note": true, "instruction": true, "detailed_instruction": true,
	"guide": true, "example": true, "comment": true, "placeholder": true,
	"view_type": true, "preview": true, "_meta": true, "version": true, "description": true,
}

var titleKeys = []string{"title", "heading", "text"}

var structuralContainerKeys = map[string]bool{
	"preliminaries": true, "body": true, "finals": true, "chapters": true,
	"items": true, "sections": true, "subsections": true, "list": true,
	"annexes": true, "indices": true,
}

var tocTitles = map[string]bool{}

func init() {
	for _, t := range []string{
		"indice", "indice de contenido", "indice de contenidos",
		"indice de tablas", "indice de figuras", "indice de abreviaturas",
		"tabla de contenido", "tabla de contenidos",
		"table of contents", "toc",
	} {
		tocTitles[t] = true
	}
}

// NormalizeTitle applies NFKD normalization and strips combining marks and
// case, for accent-insensitive TOC-title comparison.
func NormalizeTitle(title string) string {
	var b strings.Builder
	it := norm.NFKD.String(strings.ToLower(strings.TrimSpace(title)))
	for _, r := range it {
		if isCombiningMark(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isCombiningMark(r rune) bool {
	return r >= 0x0300 && r <= 0x036F
}

// IsTOCTitle reports whether title's normalized form matches a known TOC
// heading (index, table of contents, etc).
func IsTOCTitle(title string) bool {
	return tocTitles[NormalizeTitle(title)]
}

func isExcludedKey(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "_") {
		return true
	}
	return guidanceKeys[lower] || neverEmitKeys[lower]
}

func isTitleKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range titleKeys {
		if lower == k {
			return true
		}
	}
	return false
}

func extractTitle(ents []entry) string {
	for _, key := range titleKeys {
		if v, ok := findEntry(ents, key); ok {
			if s, ok := v.(string); ok {
				s = strings.Join(strings.Fields(s), " ")
				if s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// Compile walks definition and emits an ordered, flat section index. Nodes
// under a TOC-titled subtree, or under a never-emit key, are skipped
// entirely along with their descendants.
func Compile(definition any) []Descriptor {
	var out []Descriptor
	walk(definition, &out, nil, 1, false)
	return out
}

// walk visits object-valued nodes in the order entries() returns them — the
// document's own key order for an *OrderedMap (the shape DecodeOrdered
// produces), or a deterministic sorted fallback for a plain map[string]any.
// Arrays always preserve source order.
func walk(obj any, out *[]Descriptor, pathStack []string, level int, inStructure bool) {
	switch v := obj.(type) {
	case []any:
		for _, item := range v {
			walk(item, out, pathStack, level, inStructure)
		}
		return
	case *OrderedMap, map[string]any:
		ents, _ := entries(v)

		title := ""
		if inStructure {
			title = extractTitle(ents)
		}

		nextStack := pathStack
		nextLevel := level

		if title != "" {
			if IsTOCTitle(title) {
				return
			}
			nextStack = append(append([]string{}, pathStack...), title)
			sectionID := fmt.Sprintf("sec-%04d", len(*out)+1)
			lvl := level
			if lvl < 1 {
				lvl = 1
			}
			if lvl > 6 {
				lvl = 6
			}
			*out = append(*out, Descriptor{
				SectionID: sectionID,
				Path:      strings.Join(nextStack, "/"),
				Level:     lvl,
				Kind:      "heading",
				Title:     title,
			})
			nextLevel = level + 1
			if nextLevel > 6 {
				nextLevel = 6
			}
		}

		for _, e := range ents {
			key, value := e.key, e.value
			lower := strings.ToLower(key)
			if isExcludedKey(key) || isTitleKey(key) {
				continue
			}
			switch value.(type) {
			case *OrderedMap, map[string]any, []any:
			default:
				continue
			}
			childInStructure := inStructure || structuralContainerKeys[lower]
			childLevel := level
			if childInStructure {
				childLevel = nextLevel
			}
			walk(value, out, nextStack, childLevel, childInStructure)
		}
	}
}
