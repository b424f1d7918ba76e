package debt

import (
	"fmt"
	"strconv"
	"strings"
)

// The backend serializes sums as decimal strings in so'm ("14786000.00").
// They are held internally as int64 tiyin (1 so'm = 100 tiyin) so that
// summation is exact; binary floating point never touches a balance.

// ParseSum converts a backend decimal string to tiyin. At most two fraction
// digits are accepted; a missing fraction means whole so'm.
func ParseSum(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse sum %q: %w", s, err)
	}
	var f int64
	if frac != "" {
		if len(frac) > 2 {
			return 0, fmt.Errorf("parse sum %q: more than two fraction digits", s)
		}
		for len(frac) < 2 {
			frac += "0"
		}
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse sum %q: %w", s, err)
		}
	}
	v := w*100 + f
	if neg {
		v = -v
	}
	return v, nil
}

// FormatSum renders tiyin back to the backend's decimal-string form.
func FormatSum(tiyin int64) string {
	sign := ""
	if tiyin < 0 {
		sign = "-"
		tiyin = -tiyin
	}
	return fmt.Sprintf("%s%d.%02d", sign, tiyin/100, tiyin%100)
}
