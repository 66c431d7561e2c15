package main

import (
	"encoding/json"
	"errors"
	"testing"

	"cycaxworker/internal/services"
)

func TestPlacePrintsTranslation(t *testing.T) {
	out, _, err := runCLI(t, []string{"place", "--rotmax", "5,5,5", "--position", "10,0,0", "--rotate", "z"}, "")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	requireContains(t, out, "Z")
	requireContains(t, out, "(5, 0, 0)")
	requireContains(t, out, "(15, 0, 0)")
}

func TestPlaceJSON(t *testing.T) {
	out, _, err := runCLI(t, []string{"place", "--rotmax", "5,5,5", "--position", "10,0,0", "--rotate", "Z", "--json"}, "")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	var view placementView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if view.Translation != [3]float64{15, 0, 0} || view.Offset != [3]float64{5, 0, 0} {
		t.Fatalf("unexpected placement %+v", view)
	}
	if len(view.Rotations) != 1 || view.Rotations[0] != "z" {
		t.Fatalf("unexpected rotations %v", view.Rotations)
	}
}

func TestPlaceWithoutRotationsKeepsPosition(t *testing.T) {
	out, _, err := runCLI(t, []string{"place", "--rotmax", "1,2,3", "--position", "4,5,6", "--json"}, "")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	var view placementView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Translation != [3]float64{4, 5, 6} || view.Extents != [3]float64{1, 2, 3} {
		t.Fatalf("unexpected placement %+v", view)
	}
}

func TestPlaceRejectsBadInput(t *testing.T) {
	_, _, err := runCLI(t, []string{"place", "--rotmax", "5,5,5", "--rotate", "w"}, "")
	if !errors.Is(err, services.ErrInvalidAxis) {
		t.Fatalf("expected invalid axis, got %v", err)
	}
	_, _, err = runCLI(t, []string{"place", "--rotmax", "5,5"}, "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
