package market

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidSymbol marks identifiers that must never reach an outbound request.
var ErrInvalidSymbol = errors.New("market: invalid symbol")

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidSymbol reports whether s is an allow-listed identifier.
func ValidSymbol(s string) bool {
	return symbolPattern.MatchString(s)
}

// CanonicalSymbol trims and upper-cases s and validates it.
func CanonicalSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if !ValidSymbol(sym) {
		return "", ErrInvalidSymbol
	}
	return sym, nil
}

// PartitionSymbols splits input into canonical valid symbols (deduplicated,
// order preserved) and the raw values that were rejected.
func PartitionSymbols(symbols []string) (valid []string, rejected []string) {
	seen := make(map[string]struct{}, len(symbols))
	for _, raw := range symbols {
		sym, err := CanonicalSymbol(raw)
		if err != nil {
			rejected = append(rejected, raw)
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		valid = append(valid, sym)
	}
	return valid, rejected
}
