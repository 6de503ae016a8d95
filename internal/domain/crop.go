package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CropType identifies the host crop of the assessed field.
type CropType int

const (
	Maize CropType = iota
	Sorghum
)

// CropProfile holds the per-crop constants used by the scoring formula.
type CropProfile struct {
	GrowthDurationDays int
	InteractionFactor  float64
}

// cropProfiles is keyed by crop so new crops only need a row here.
var cropProfiles = map[CropType]CropProfile{
	Maize:   {GrowthDurationDays: 120, InteractionFactor: 0.8},
	Sorghum: {GrowthDurationDays: 100, InteractionFactor: 0.5},
}

var cropNames = map[CropType]string{
	Maize:   "maize",
	Sorghum: "sorghum",
}

// Profile returns the crop constants. Unknown crops fall back to the
// sorghum row, mirroring the "0.8 for maize, 0.5 otherwise" rule.
func (c CropType) Profile() CropProfile {
	if p, ok := cropProfiles[c]; ok {
		return p
	}
	return cropProfiles[Sorghum]
}

func (c CropType) String() string {
	if n, ok := cropNames[c]; ok {
		return n
	}
	return fmt.Sprintf("crop(%d)", int(c))
}

// ParseCropType accepts a crop name ("maize", "Sorghum") or the numeric codes
// used by the mobile client ("0" maize, "1" sorghum).
func ParseCropType(s string) (CropType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "maize", "0":
		return Maize, nil
	case "sorghum", "1":
		return Sorghum, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCropType, s)
	}
}

func (c CropType) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts either the crop name or its numeric code.
func (c *CropType) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		parsed, err := ParseCropType(fmt.Sprint(n))
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownCropType, data)
	}
	parsed, err := ParseCropType(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Presence is the historical Striga presence flag. On the wire it accepts
// booleans as well as the "yes"/"no" strings sent by field clients.
type Presence bool

// ParsePresence parses "yes"/"no", "true"/"false", "y"/"n" and "1"/"0".
func ParsePresence(s string) (Presence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0", "":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidPresence, s)
	}
}

func (p *Presence) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*p = Presence(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPresence, data)
	}
	parsed, err := ParsePresence(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
