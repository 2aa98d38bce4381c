package aso

import (
	"strconv"
	"strings"
)

// ParseHandle normalizes a raw identifier into a store handle. It trims
// surrounding whitespace and rejects anything that is not an integer. Range
// checks are the provider's concern.
func ParseHandle(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, E(KindValidation, "aso.ParseHandle", "identifier is empty", nil)
	}
	handle, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, E(KindValidation, "aso.ParseHandle", "identifier must be numeric", err)
	}
	return handle, nil
}
