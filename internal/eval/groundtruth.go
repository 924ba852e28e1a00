package eval

import (
	"encoding/csv"
	"io"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const gtSuffix = "_gt"

// GroundTruth maps (town, district short name) to the expected values for
// each term.
type GroundTruth map[Key]map[string][]float64

// Key identifies one ground-truth row.
type Key struct {
	Town     string
	District string
}

// Expected returns the expected values for a lookup and whether the table
// has an entry for it.
func (g GroundTruth) Expected(town, district, term string) ([]float64, bool) {
	terms, ok := g[Key{Town: town, District: district}]
	if !ok {
		return nil, false
	}
	v, ok := terms[term]
	return v, ok
}

// TermColumn returns the column name holding a term's expected values,
// e.g. "min lot size" becomes "min_lot_size_gt".
func TermColumn(term string) string {
	return strings.ReplaceAll(strings.TrimSpace(term), " ", "_") + gtSuffix
}

// ParseGroundTruth reads a CSV with "town" and "district_abb" columns plus
// one "<term>_gt" column per term. Each cell holds comma-separated numbers;
// empty cells are skipped.
func ParseGroundTruth(r io.Reader) (GroundTruth, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("eval: ground truth is empty")
	}
	if err != nil {
		return nil, eris.Wrap(err, "eval: read ground truth header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	townIdx := slices.Index(header, "town")
	distIdx := slices.Index(header, "district_abb")
	if townIdx < 0 || distIdx < 0 {
		return nil, eris.Errorf("eval: ground truth needs town and district_abb columns, got %v", header)
	}

	termCols := make(map[int]string)
	for i, h := range header {
		if strings.HasSuffix(h, gtSuffix) {
			termCols[i] = strings.ReplaceAll(strings.TrimSuffix(h, gtSuffix), "_", " ")
		}
	}

	gt := make(GroundTruth)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "eval: read ground truth line %d", line)
		}
		if townIdx >= len(record) || distIdx >= len(record) {
			zap.L().Warn("eval: short ground truth row", zap.Int("line", line))
			continue
		}

		key := Key{Town: strings.TrimSpace(record[townIdx]), District: strings.TrimSpace(record[distIdx])}
		terms := gt[key]
		if terms == nil {
			terms = make(map[string][]float64)
			gt[key] = terms
		}
		for idx, term := range termCols {
			if idx >= len(record) {
				continue
			}
			vals, err := parseValues(record[idx])
			if err != nil {
				return nil, eris.Wrapf(err, "eval: line %d column %s", line, header[idx])
			}
			if len(vals) > 0 {
				terms[term] = vals
			}
		}
	}
	return gt, nil
}

func parseValues(cell string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(cell, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, ok := parseFloat(part)
		if !ok {
			return nil, eris.Errorf("invalid number %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}
