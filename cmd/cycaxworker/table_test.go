package main

import (
	"strings"
	"testing"
)

func TestRenderTableFillsMissingCells(t *testing.T) {
	out := renderTable([]column{textCol("Job"), textCol("Scene"), numCol("Parts")}, [][]string{
		{"alpha", "box.blend", "3"},
		{"beta", ""},
	})

	lines := strings.Split(out, "\n")
	if len(lines) != 6 {
		t.Fatalf("expected header, two rows and borders, got %d lines:\n%s", len(lines), out)
	}
	requireContains(t, lines[1], "JOB")
	requireContains(t, lines[1], "PARTS")
	short := lines[4]
	if strings.Count(short, emptyCell) != 2 {
		t.Fatalf("expected two placeholder cells in %q", short)
	}
	if !strings.Contains(lines[3], "│     3 │") {
		t.Fatalf("expected numeric column right aligned in %q", lines[3])
	}
}

func TestRenderTableWithoutColumns(t *testing.T) {
	if out := renderTable(nil, [][]string{{"x"}}); out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}
