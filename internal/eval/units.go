// Package eval scores extraction results against a ground-truth table.
package eval

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// numberPattern matches, in priority order, mixed numbers ("1 1/2"), simple
// fractions ("3/4") and decimals with optional thousands separators.
var numberPattern = regexp.MustCompile(`(\d+)\s+(\d+)/(\d+)|(\d+)/(\d+)|(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?|\.\d+)`)

// CleanStringUnits returns the distinct numbers written in s, in order of
// appearance. Vulgar fraction characters are folded with NFKC, so "1½"
// reads as 1.5.
func CleanStringUnits(s string) []float64 {
	text := normalize(s)

	var out []float64
	seen := make(map[float64]struct{})
	for _, m := range numberPattern.FindAllStringSubmatch(text, -1) {
		var (
			v  float64
			ok bool
		)
		switch {
		case m[1] != "":
			whole, okW := parseFloat(m[1])
			frac, okF := fraction(m[2], m[3])
			v, ok = whole+frac, okW && okF
		case m[4] != "":
			v, ok = fraction(m[4], m[5])
		default:
			v, ok = parseFloat(strings.ReplaceAll(m[6], ",", ""))
		}
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// normalize applies NFKC, separating a vulgar fraction from a preceding
// digit first and mapping the fraction slash to '/'. Other non-decimal
// numerals such as the superscript in "ft²" are dropped.
func normalize(s string) string {
	var b strings.Builder
	var prev rune
	for _, r := range s {
		if unicode.Is(unicode.No, r) {
			if !isVulgarFraction(r) {
				continue
			}
			if unicode.IsDigit(prev) {
				b.WriteByte(' ')
			}
		}
		b.WriteRune(r)
		prev = r
	}
	out := norm.NFKC.String(b.String())
	return strings.ReplaceAll(out, "⁄", "/")
}

func isVulgarFraction(r rune) bool {
	return strings.ContainsRune(norm.NFKC.String(string(r)), '⁄')
}

func fraction(num, den string) (float64, bool) {
	n, okN := parseFloat(num)
	d, okD := parseFloat(den)
	if !okN || !okD || d == 0 {
		return 0, false
	}
	return n / d, true
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
