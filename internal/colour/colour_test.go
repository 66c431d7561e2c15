package colour_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"gopkg.in/yaml.v3"

	"cycaxworker/internal/colour"
	"cycaxworker/internal/services"
)

func approx(a, b colour.RGB) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want colour.RGB
	}{
		{"red", colour.RGB{1, 0, 0}},
		{"  Blue ", colour.RGB{0, 0, 1}},
		{"g", colour.RGB{0, 0.5, 0}},
		{"k", colour.RGB{0, 0, 0}},
		{"#fff", colour.RGB{1, 1, 1}},
		{"#FF0000", colour.RGB{1, 0, 0}},
		{"#00ff0080", colour.RGB{0, 1, 0}},
		{"0.25", colour.RGB{0.25, 0.25, 0.25}},
		{"white", colour.RGB{1, 1, 1}},
	}
	for _, tc := range tests {
		got, err := colour.Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if !approx(got, tc.want) {
			t.Fatalf("Parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "not-a-colour", "#12", "#gggggg", "1.5"} {
		if _, err := colour.Parse(in); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Parse(%q) error = %v, want validation error", in, err)
		}
	}
}

func TestSpecJSON(t *testing.T) {
	var specs []colour.Spec
	if err := json.Unmarshal([]byte(`["red", [0.1, 0.2, 0.3]]`), &specs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if specs[0].String() != "red" {
		t.Fatalf("unexpected name %q", specs[0].String())
	}
	rgb, err := specs[1].Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !approx(rgb, colour.RGB{0.1, 0.2, 0.3}) {
		t.Fatalf("unexpected triple %v", rgb)
	}
	out, err := json.Marshal(specs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `["red",[0.1,0.2,0.3]]` {
		t.Fatalf("unexpected JSON %s", out)
	}
	var bad colour.Spec
	if err := json.Unmarshal([]byte(`{"r":1}`), &bad); err == nil {
		t.Fatal("expected error for object colour")
	}
}

func TestSpecYAML(t *testing.T) {
	var doc struct {
		A colour.Spec `yaml:"a"`
		B colour.Spec `yaml:"b"`
	}
	if err := yaml.Unmarshal([]byte("a: green\nb: [1, 0, 0.5]\n"), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.A.String() != "green" {
		t.Fatalf("unexpected a %q", doc.A.String())
	}
	rgb, err := doc.B.Resolve()
	if err != nil || !approx(rgb, colour.RGB{1, 0, 0.5}) {
		t.Fatalf("unexpected b %v (%v)", rgb, err)
	}
}

func TestTripleOutOfRange(t *testing.T) {
	if _, err := colour.Triple(colour.RGB{2, 0, 0}).Resolve(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
