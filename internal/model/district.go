package model

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// District identifies a zoning district within a town.
type District struct {
	FullName  string `json:"full_name"`
	ShortName string `json:"short_name"`
}

// UnmarshalJSON accepts both the canonical field names and the legacy
// {"T": ..., "Z": ...} shape used by the district extraction outputs.
func (d *District) UnmarshalJSON(data []byte) error {
	var raw struct {
		FullName  string `json:"full_name"`
		ShortName string `json:"short_name"`
		T         string `json:"T"`
		Z         string `json:"Z"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: unmarshal district")
	}
	d.FullName = raw.FullName
	if d.FullName == "" {
		d.FullName = raw.T
	}
	d.ShortName = raw.ShortName
	if d.ShortName == "" {
		d.ShortName = raw.Z
	}
	return nil
}

// ShortNameVariants returns the short name plus its hyphen-stripped and
// period-stripped spellings, deduplicated, in that order.
func (d District) ShortNameVariants() []string {
	variants := []string{d.ShortName}
	for _, v := range []string{
		strings.ReplaceAll(d.ShortName, "-", ""),
		strings.ReplaceAll(d.ShortName, ".", ""),
	} {
		if !slices.Contains(variants, v) {
			variants = append(variants, v)
		}
	}
	return variants
}

// String returns "Full Name (SHORT)".
func (d District) String() string {
	if d.ShortName == "" {
		return d.FullName
	}
	return d.FullName + " (" + d.ShortName + ")"
}

// TownDistricts is one line of a districts JSONL file.
type TownDistricts struct {
	Town      string     `json:"town"`
	Districts []District `json:"districts"`
}

// UnmarshalJSON accepts {"town", "districts"} and the legacy
// {"Town", "Districts"} keys.
func (t *TownDistricts) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: unmarshal town districts")
	}
	pick := func(keys ...string) json.RawMessage {
		for _, k := range keys {
			if v, ok := raw[k]; ok {
				return v
			}
		}
		return nil
	}

	t.Town = ""
	t.Districts = nil
	if v := pick("town", "Town"); v != nil {
		if err := json.Unmarshal(v, &t.Town); err != nil {
			return eris.Wrap(err, "model: unmarshal town")
		}
	}
	if v := pick("districts", "Districts"); v != nil {
		if err := json.Unmarshal(v, &t.Districts); err != nil {
			return eris.Wrap(err, "model: unmarshal districts")
		}
	}
	return nil
}
