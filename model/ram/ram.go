// Package ram defines the fixed-point capacity unit used by every ledger
// computation. Values are kept as integer hundredths of a GB so repeated
// add/subtract over a long-lived process never drifts; conversion to a float
// GB happens only at the edges (JSON, YAML, logs).
package ram

import (
	"encoding/json"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// Scale is the number of internal units per GB.
const Scale = 100

// Ram is an amount of memory in hundredths of a GB.
type Ram int64

// FromGB converts a display value in GB to Ram, rounding to the nearest unit.
func FromGB(gb float64) Ram {
	return Ram(math.Round(gb * Scale))
}

// GB returns the display value in GB.
func (r Ram) GB() float64 {
	return float64(r) / Scale
}

// Times returns r multiplied by n.
func (r Ram) Times(n int) Ram {
	return r * Ram(n)
}

// Fit returns how many chunks of the given size fit in r (floor). A
// non-positive chunk or a non-positive r fits zero times.
func (r Ram) Fit(chunk Ram) int {
	if chunk <= 0 || r <= 0 {
		return 0
	}
	return int(r / chunk)
}

// Clamp0 returns r, or 0 when r is negative.
func (r Ram) Clamp0() Ram {
	if r < 0 {
		return 0
	}
	return r
}

func (r Ram) String() string {
	return fmt.Sprintf("%.2fGB", r.GB())
}

// MarshalJSON encodes r as a GB float.
func (r Ram) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.GB())
}

// UnmarshalJSON decodes a GB float.
func (r *Ram) UnmarshalJSON(data []byte) error {
	var gb float64
	if err := json.Unmarshal(data, &gb); err != nil {
		return fmt.Errorf("invalid ram value %s: %w", data, err)
	}
	*r = FromGB(gb)
	return nil
}

// MarshalYAML encodes r as a GB float.
func (r Ram) MarshalYAML() (interface{}, error) {
	return r.GB(), nil
}

// UnmarshalYAML decodes a GB float.
func (r *Ram) UnmarshalYAML(node *yaml.Node) error {
	var gb float64
	if err := node.Decode(&gb); err != nil {
		return fmt.Errorf("invalid ram value %q: %w", node.Value, err)
	}
	*r = FromGB(gb)
	return nil
}

// Max returns the larger of a and b.
func Max(a, b Ram) Ram {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b Ram) Ram {
	if a < b {
		return a
	}
	return b
}
