// Package colour resolves part colour specs to RGB triples.
//
// Accepted forms: CSS/SVG colour names ("red", "steelblue"), the single
// letter shorthands b g r c m y k w, hex strings (#rgb, #rrggbb, #rrggbbaa),
// a grey level as a decimal string ("0.5"), and an explicit [r, g, b] triple
// with components in 0..1.
package colour

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
	"gopkg.in/yaml.v3"

	"cycaxworker/internal/services"
)

// RGB holds red, green, and blue in the range 0..1.
type RGB [3]float64

func (c RGB) String() string {
	return fmt.Sprintf("(%.3g, %.3g, %.3g)", c[0], c[1], c[2])
}

var shorthand = map[string]RGB{
	"b": {0, 0, 1},
	"g": {0, 0.5, 0},
	"r": {1, 0, 0},
	"c": {0, 0.75, 0.75},
	"m": {0.75, 0, 0.75},
	"y": {0.75, 0.75, 0},
	"k": {0, 0, 0},
	"w": {1, 1, 1},
}

// Parse resolves a textual colour spec.
func Parse(value string) (RGB, error) {
	spec := strings.ToLower(strings.TrimSpace(value))
	if spec == "" {
		return RGB{}, invalid(value, "empty colour")
	}
	if rgb, ok := shorthand[spec]; ok {
		return rgb, nil
	}
	if strings.HasPrefix(spec, "#") {
		return parseHex(value, spec[1:])
	}
	if named, ok := colornames.Map[strings.ReplaceAll(spec, " ", "")]; ok {
		return RGB{float64(named.R) / 255, float64(named.G) / 255, float64(named.B) / 255}, nil
	}
	if grey, err := strconv.ParseFloat(spec, 64); err == nil {
		if !(grey >= 0 && grey <= 1) {
			return RGB{}, invalid(value, "grey level must be between 0 and 1")
		}
		return RGB{grey, grey, grey}, nil
	}
	return RGB{}, invalid(value, "unknown colour name")
}

func parseHex(original, digits string) (RGB, error) {
	switch len(digits) {
	case 3:
		digits = string([]byte{digits[0], digits[0], digits[1], digits[1], digits[2], digits[2]})
	case 6, 8:
	default:
		return RGB{}, invalid(original, "hex colour must have 3, 6 or 8 digits")
	}
	var out RGB
	for i := range out {
		v, err := strconv.ParseUint(digits[i*2:i*2+2], 16, 8)
		if err != nil {
			return RGB{}, invalid(original, "bad hex digits")
		}
		out[i] = float64(v) / 255
	}
	return out, nil
}

// Check validates an explicit triple.
func (c RGB) Check() error {
	for _, v := range c {
		if v < 0 || v > 1 {
			return invalid(c.String(), "components must be between 0 and 1")
		}
	}
	return nil
}

func invalid(value, reason string) error {
	return services.Wrap(services.ErrValidation, "colour", "parse", fmt.Sprintf("%q: %s", value, reason), nil)
}

// Spec is a colour as written in a job spec: a string or an [r, g, b] triple.
type Spec struct {
	text   string
	triple *RGB
}

// Named returns a Spec for a textual colour.
func Named(text string) Spec { return Spec{text: text} }

// Triple returns a Spec for an explicit RGB value.
func Triple(rgb RGB) Spec { return Spec{triple: &rgb} }

// IsZero reports whether no colour was given.
func (s Spec) IsZero() bool { return s.text == "" && s.triple == nil }

// Resolve converts the spec to RGB.
func (s Spec) Resolve() (RGB, error) {
	if s.triple != nil {
		return *s.triple, s.triple.Check()
	}
	return Parse(s.text)
}

// String returns the spec as written. Triples render as r,g,b.
func (s Spec) String() string {
	if s.triple != nil {
		return strconv.FormatFloat(s.triple[0], 'g', -1, 64) + "," +
			strconv.FormatFloat(s.triple[1], 'g', -1, 64) + "," +
			strconv.FormatFloat(s.triple[2], 'g', -1, 64)
	}
	return s.text
}

// MarshalJSON writes the spec in the form it was read.
func (s Spec) MarshalJSON() ([]byte, error) {
	if s.triple != nil {
		return json.Marshal([3]float64(*s.triple))
	}
	return json.Marshal(s.text)
}

// UnmarshalJSON accepts a string or a three element number array.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*s = Spec{text: text}
		return nil
	}
	var triple [3]float64
	if err := json.Unmarshal(data, &triple); err != nil {
		return fmt.Errorf("colour must be a string or [r, g, b]: %w", err)
	}
	rgb := RGB(triple)
	*s = Spec{triple: &rgb}
	return nil
}

// UnmarshalYAML accepts a scalar or a three element sequence.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = Spec{text: node.Value}
		return nil
	case yaml.SequenceNode:
		var values []float64
		if err := node.Decode(&values); err != nil {
			return err
		}
		if len(values) != 3 {
			return fmt.Errorf("colour triple must have 3 components, got %d", len(values))
		}
		rgb := RGB{values[0], values[1], values[2]}
		*s = Spec{triple: &rgb}
		return nil
	default:
		return fmt.Errorf("colour must be a string or [r, g, b]")
	}
}
