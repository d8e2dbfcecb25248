package syncer

import (
	"math"
	"strconv"
	"strings"

	"ltvsync/internal/ghl"
)

// ResolveFieldID maps the configured field key to the field's internal id.
// A field matches on exact key or exact id.
func ResolveFieldID(fields []ghl.Field, key string) (string, error) {
	for _, f := range fields {
		if (f.FieldKey == key || f.ID == key) && f.ID != "" {
			return f.ID, nil
		}
	}
	available := make([]string, 0, len(fields))
	for _, f := range fields {
		available = append(available, f.FieldKey)
	}
	return "", &FieldNotFoundError{Key: key, Available: available}
}

// ExtractLTV reads the contact's value for fieldID. ok is false when the
// contact has no entry for the field or the value cannot be parsed; a null or
// empty value counts as zero.
func ExtractLTV(c ghl.Contact, fieldID string) (value float64, ok bool) {
	for _, cf := range c.CustomFields {
		if cf.ID != fieldID {
			continue
		}
		switch v := cf.Value.(type) {
		case nil:
			return 0, true
		case float64:
			return v, true
		case bool:
			if v {
				return 1, true
			}
			return 0, true
		case string:
			if v == "" {
				return 0, true
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return 0, false
			}
			return f, true
		default:
			return 0, false
		}
	}
	return 0, false
}
