package masking

import (
	"regexp"
	"strings"
)

const maskToken = "****"

var pinPattern = regexp.MustCompile(`^[A-Z]\d{9}[A-Z]$`)

// MaskPIN redacts an authority PIN keeping the prefix letter and check
// letter for correlation.
func MaskPIN(pin string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(pin))
	if !pinPattern.MatchString(trimmed) {
		return maskToken
	}
	return trimmed[:1] + maskToken + trimmed[len(trimmed)-1:]
}

// MaskMetadata returns a copy of the input with PIN-shaped string values
// redacted. Trail entries must never carry a clear-text PIN.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if strings.Contains(strings.ToLower(key), "pin") || pinPattern.MatchString(strings.TrimSpace(cast)) {
			return MaskPIN(cast)
		}
		return cast
	case map[string]any:
		return MaskMetadata(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}
