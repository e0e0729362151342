package cli

import (
	"math"
	"regexp"
	"strconv"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

// Price, percent and truncation formatting used by the list tables.
func TestPropertyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatPrice preserves value", prop.ForAll(
		func(price float64) bool {
			parsed, err := strconv.ParseFloat(FormatPrice(price), 64)
			if err != nil {
				return false
			}
			tolerance := 0.005
			if math.Abs(price) < 1 {
				tolerance = 0.0000005
			}
			return math.Abs(parsed-price) <= tolerance
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("FormatPrice keeps precision for sub-unit prices", prop.ForAll(
		func(price float64) bool {
			return regexp.MustCompile(`^0\.\d{6}$`).MatchString(FormatPrice(price))
		},
		gen.Float64Range(0.000001, 0.99),
	))

	percentFormat := regexp.MustCompile(`^[+-]?\d+\.\d{2}%$`)
	properties.Property("FormatPercent is signed with two decimals", prop.ForAll(
		func(value float64) bool {
			s := FormatPercent(value)
			if !percentFormat.MatchString(s) {
				return false
			}
			if value > 0 {
				return s[0] == '+'
			}
			return s[0] != '+'
		},
		gen.Float64Range(-100, 100),
	))

	properties.Property("TruncateString never exceeds maxLen runes", prop.ForAll(
		func(s string, maxLen int) bool {
			out := TruncateString(s, maxLen)
			if utf8.RuneCountInString(s) <= maxLen {
				return out == s
			}
			return utf8.RuneCountInString(out) == maxLen && utf8.ValidString(out)
		},
		gen.AnyString(),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}

func TestFormatDateTime(t *testing.T) {
	assert.Equal(t, "-", FormatDateTime(nil))
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("IST", 5*3600+1800))
	assert.Equal(t, "2026-03-03 23:36:07", FormatDateTime(&ts))
}
