package condition

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/dukex/stepflow/pkg/interpolate"
)

// ParseFloat converts a context value to a float the way a lenient number parser does:
// numbers pass through, anything else is rendered as text and the longest leading
// decimal literal is parsed ("12.5kg" is 12.5). Values without a numeric prefix,
// booleans and nil yield NaN.
func ParseFloat(v any) float64 {
	if v == nil {
		return math.NaN()
	}

	if f, ok := asNumber(v); ok {
		return f
	}

	switch v.(type) {
	case bool, map[string]any:
		return math.NaN()
	}

	return parseFloatPrefix(interpolate.Stringify(v))
}

func parseFloatPrefix(s string) float64 {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}

	if strings.HasPrefix(s[end:], "Infinity") {
		if s[0] == '-' {
			return math.Inf(-1)
		}

		return math.Inf(1)
	}

	digits := 0

	for end < len(s) && isDigit(s[end]) {
		end++
		digits++
	}

	if end < len(s) && s[end] == '.' {
		end++

		for end < len(s) && isDigit(s[end]) {
			end++
			digits++
		}
	}

	if digits == 0 {
		return math.NaN()
	}

	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if exp < len(s) && (s[exp] == '+' || s[exp] == '-') {
			exp++
		}

		expDigits := exp
		for expDigits < len(s) && isDigit(s[expDigits]) {
			expDigits++
		}

		if expDigits > exp {
			end = expDigits
		}
	}

	// Overflowing literals saturate to ±Inf, which is what ParseFloat returns with ErrRange.
	f, _ := strconv.ParseFloat(s[:end], 64)

	return f
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
