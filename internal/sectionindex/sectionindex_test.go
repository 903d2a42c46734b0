package sectionindex

import "testing"

func TestCompileSimpleChapters(t *testing.T) {
	def := map[string]any{
		"body": []any{
			map[string]any{"title": "Capitulo 1"},
			map[string]any{"title": "Capitulo 2"},
		},
	}
	out := Compile(def)
	if len(out) != 2 {
		t.Fatalf("expected 2 sections, got %d: %+v", len(out), out)
	}
	if out[0].SectionID != "sec-0001" || out[0].Path != "Capitulo 1" {
		t.Fatalf("unexpected first section: %+v", out[0])
	}
	if out[1].SectionID != "sec-0002" || out[1].Path != "Capitulo 2" {
		t.Fatalf("unexpected second section: %+v", out[1])
	}
}

func TestCompileExcludesIndexSubtree(t *testing.T) {
	def := map[string]any{
		"body": []any{
			map[string]any{"title": "Capitulo 1"},
		},
		"indices": map[string]any{
			"title": "Indice de Tablas",
			"items": []any{
				map[string]any{"title": "Should never appear"},
			},
		},
	}
	out := Compile(def)
	if len(out) != 1 {
		t.Fatalf("expected indices key to be entirely excluded, got %+v", out)
	}
}

func TestCompileExcludesAccentInsensitiveTOCTitles(t *testing.T) {
	def := map[string]any{
		"body": []any{
			map[string]any{
				"title": "Índice de Contenidos",
				"sections": []any{
					map[string]any{"title": "Nested, should be skipped with parent"},
				},
			},
			map[string]any{"title": "Capitulo Real"},
		},
	}
	out := Compile(def)
	if len(out) != 1 || out[0].Title != "Capitulo Real" {
		t.Fatalf("expected only the real chapter to survive, got %+v", out)
	}
}

func TestCompileSkipsGuidanceKeys(t *testing.T) {
	def := map[string]any{
		"body": []any{
			map[string]any{
				"title": "Capitulo 1",
				"note":  map[string]any{"title": "Should be excluded"},
			},
		},
	}
	out := Compile(def)
	if len(out) != 1 {
		t.Fatalf("expected guidance key subtree to be excluded, got %+v", out)
	}
}

func TestCompileRequiresStructuralContainer(t *testing.T) {
	def := map[string]any{
		"random_key": []any{
			map[string]any{"title": "Not inside a structural container"},
		},
	}
	out := Compile(def)
	if len(out) != 0 {
		t.Fatalf("expected no sections outside a structural container, got %+v", out)
	}
}

func TestCompileSectionIDsAreSequentialAndUnique(t *testing.T) {
	def := map[string]any{
		"body": []any{
			map[string]any{"title": "A", "sections": []any{
				map[string]any{"title": "A.1"},
				map[string]any{"title": "A.2"},
			}},
			map[string]any{"title": "B"},
		},
	}
	out := Compile(def)
	seen := map[string]bool{}
	for i, d := range out {
		want := "sec-000" + string(rune('1'+i))
		if d.SectionID != want {
			t.Fatalf("section %d: got id %s, want %s", i, d.SectionID, want)
		}
		if seen[d.SectionID] {
			t.Fatalf("duplicate section id %s", d.SectionID)
		}
		seen[d.SectionID] = true
	}
}

func TestIsTOCTitleAccentInsensitive(t *testing.T) {
	cases := []string{"Índice", "indice", "TABLA DE CONTENIDOS", "Table of Contents", "toc"}
	for _, c := range cases {
		if !IsTOCTitle(c) {
			t.Errorf("expected %q to be recognized as a TOC title", c)
		}
	}
	if IsTOCTitle("Capitulo 1") {
		t.Error("expected a regular chapter title not to be recognized as TOC")
	}
}

func TestCompilePreservesSourceOrderAcrossSiblingStructuralKeys(t *testing.T) {
	raw := []byte(`{
		"finals": {"title": "Closing Remarks"},
		"preliminaries": {"title": "Foreword"},
		"body": {"title": "Chapter One"}
	}`)

	want := []string{"Closing Remarks", "Foreword", "Chapter One"}

	for i := 0; i < 20; i++ {
		def, err := DecodeOrdered(raw)
		if err != nil {
			t.Fatalf("DecodeOrdered() error = %v", err)
		}
		out := Compile(def)
		if len(out) != len(want) {
			t.Fatalf("run %d: expected %d sections, got %d: %+v", i, len(want), len(out), out)
		}
		for j, d := range out {
			if d.Title != want[j] {
				t.Fatalf("run %d: section %d: got title %q, want %q (full: %+v)", i, j, d.Title, want[j], out)
			}
		}
	}
}

func TestDecodeOrderedPreservesArrayAndObjectOrder(t *testing.T) {
	raw := []byte(`{
		"body": [
			{"title": "B", "sections": {"z": {"title": "Z"}, "a": {"title": "A"}}},
			{"title": "A"}
		]
	}`)

	def, err := DecodeOrdered(raw)
	if err != nil {
		t.Fatalf("DecodeOrdered() error = %v", err)
	}
	out := Compile(def)
	want := []string{"B", "Z", "A", "A"}
	if len(out) != len(want) {
		t.Fatalf("expected %d sections, got %d: %+v", len(want), len(out), out)
	}
	for i, d := range out {
		if d.Title != want[i] {
			t.Fatalf("section %d: got title %q, want %q (full: %+v)", i, d.Title, want[i], out)
		}
	}
}

func TestLevelClampedToSix(t *testing.T) {
	def := map[string]any{
		"body": []any{
			map[string]any{"title": "L1", "sections": []any{
				map[string]any{"title": "L2", "sections": []any{
					map[string]any{"title": "L3", "sections": []any{
						map[string]any{"title": "L4", "sections": []any{
							map[string]any{"title": "L5", "sections": []any{
								map[string]any{"title": "L6", "sections": []any{
									map[string]any{"title": "L7 should clamp"},
								}},
							}},
						}},
					}},
				}},
			}},
		},
	}
	out := Compile(def)
	for _, d := range out {
		if d.Level < 1 || d.Level > 6 {
			t.Fatalf("level out of bounds: %+v", d)
		}
	}
}
