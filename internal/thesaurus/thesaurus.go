// Package thesaurus expands lookup terms into the synonym phrases used to
// query zoning documents.
package thesaurus

import (
	_ "embed"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DimensionsKey is the reserved entry holding generic unit phrases.
const DimensionsKey = "dimensions"

//go:embed thesaurus.json
var defaultData []byte

// minPrefixes are the spellings substituted for a leading "min" in phrases.
var minPrefixes = []string{"min", "minimum", "min."}

// Thesaurus maps a term to its ordered synonym phrases.
type Thesaurus map[string][]string

// Default returns the thesaurus bundled with the binary.
func Default() Thesaurus {
	t, err := Parse(defaultData)
	if err != nil {
		panic(eris.Wrap(err, "thesaurus: parse embedded data"))
	}
	return t
}

// Load reads a thesaurus from a JSON or YAML file.
func Load(path string) (Thesaurus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "thesaurus: read %s", path)
	}
	return Parse(data)
}

// Parse decodes thesaurus data. JSON is accepted as a subset of YAML.
func Parse(data []byte) (Thesaurus, error) {
	var t Thesaurus
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "thesaurus: parse")
	}
	if t == nil {
		t = Thesaurus{}
	}
	return t, nil
}

// Synonyms returns the raw synonym list for term, or nil if absent.
func (t Thesaurus) Synonyms(term string) []string {
	return t[term]
}

// Expand returns the deduplicated, sorted set of phrases for term. Each
// synonym beginning with "min" is also emitted with "minimum" and "min.".
// A term missing from the thesaurus expands to itself.
func (t Thesaurus) Expand(term string) []string {
	syns, ok := t[term]
	if !ok || len(syns) == 0 {
		return []string{term}
	}

	set := make(map[string]struct{}, len(syns)*len(minPrefixes))
	for _, s := range syns {
		for _, v := range minVariants(s) {
			set[v] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// ExpandDimensions expands "<term> dimensions", falling back to the reserved
// dimensions entry when the term has no dedicated unit list.
func (t Thesaurus) ExpandDimensions(term string) []string {
	key := term + " " + DimensionsKey
	if _, ok := t[key]; ok {
		return t.Expand(key)
	}
	if _, ok := t[DimensionsKey]; ok {
		return t.Expand(DimensionsKey)
	}
	return []string{key}
}

func minVariants(phrase string) []string {
	rest, ok := strings.CutPrefix(phrase, "min ")
	if !ok {
		return []string{phrase}
	}
	out := make([]string, 0, len(minPrefixes))
	for _, p := range minPrefixes {
		out = append(out, p+" "+rest)
	}
	return out
}
