package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModel(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(Rates{
		Models: map[string]ModelRate{
			"haiku": {Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
	})

	tests := []struct {
		name  string
		model string
		usage Usage
		want  float64
	}{
		{"input_only", "haiku", Usage{Input: 1_000_000}, 0.80},
		{"output_only", "haiku", Usage{Output: 1_000_000}, 4.00},
		{"cache_write", "haiku", Usage{CacheWrite: 1_000_000}, 1.00},
		{"cache_read", "haiku", Usage{CacheRead: 1_000_000}, 0.08},
		{"gpt4_default", "gpt-4", Usage{Input: 1000, Output: 500}, 0.06},
		{"davinci_default", "text-davinci-003", Usage{Input: 2000, Output: 256}, 0.04512},
		{"unknown", "mystery", Usage{Input: 1_000_000}, 0},
		{"zero", "haiku", Usage{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Model(tt.model, tt.usage), 1e-9)
		})
	}
}

func TestNewCalculator_OverridesDefaults(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(Rates{Models: map[string]ModelRate{"gpt-4": {Input: 1, Output: 1}}})
	assert.InDelta(t, 2.0, calc.Model("gpt-4", Usage{Input: 1_000_000, Output: 1_000_000}), 1e-9)
	assert.True(t, calc.Known("gpt-3.5-turbo"))
	assert.False(t, calc.Known("nope"))
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	r := DefaultRates()
	for _, m := range []string{"text-davinci-003", "gpt-3.5-turbo", "gpt-4", "gpt-4-1106-preview"} {
		assert.Contains(t, r.Models, m)
	}
}
