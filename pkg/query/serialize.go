package query

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cdsetool/cdsetool-go/pkg/cdseerrors"
	"github.com/cdsetool/cdsetool-go/pkg/collection"
)

const (
	dateFormat     = "2006-01-02"
	dateTimeFormat = "2006-01-02T15:04:05Z"
)

// serializeTerm turns a search-term value into its query-string form.
// Ordered sequences are comma-joined; date-only time.Time values use
// dateFormat; any other time.Time uses dateTimeFormat; everything else
// falls back to its default string form.
func serializeTerm(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, ",")
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.UTC().Format(dateFormat)
		}
		return val.UTC().Format(dateTimeFormat)
	case []interface{}:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = serializeTerm(e)
		}
		return strings.Join(parts, ",")
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// validateTerm checks one search-term key/value pair against a collection
// descriptor: the key must exist, the value must match the term's regex
// pattern (if any), and must lie within its inclusive numeric bounds (if
// any). It returns the value's serialised string form.
func validateTerm(desc collection.Descriptor, key string, value interface{}) (string, error) {
	term, ok := desc.Terms[key]
	if !ok {
		return "", cdseerrors.New(
			cdseerrors.TypeUnknownSearchTerm,
			fmt.Sprintf("search term %q was not found for collection %q. Available terms are: %s", key, desc.Collection, strings.Join(desc.Keys(), ", ")),
		)
	}

	serialized := serializeTerm(value)

	if term.Pattern != nil && !term.Pattern.MatchString(serialized) {
		return "", cdseerrors.New(
			cdseerrors.TypeSearchTermPatternMismatch,
			fmt.Sprintf("value %q for search term %q does not match pattern %q", serialized, key, term.Pattern.String()),
		)
	}

	if term.MinInclusive != nil || term.MaxInclusive != nil {
		f, ok := new(big.Float).SetString(serialized)
		if !ok {
			return "", cdseerrors.New(
				cdseerrors.TypeSearchTermOutOfRange,
				fmt.Sprintf("value %q for search term %q is not numeric", serialized, key),
			)
		}
		if term.MinInclusive != nil && f.Cmp(term.MinInclusive) < 0 {
			return "", cdseerrors.New(
				cdseerrors.TypeSearchTermOutOfRange,
				fmt.Sprintf("value %q for search term %q is below the minimum %s", serialized, key, term.MinInclusive.String()),
			)
		}
		if term.MaxInclusive != nil && f.Cmp(term.MaxInclusive) > 0 {
			return "", cdseerrors.New(
				cdseerrors.TypeSearchTermOutOfRange,
				fmt.Sprintf("value %q for search term %q is above the maximum %s", serialized, key, term.MaxInclusive.String()),
			)
		}
	}

	return serialized, nil
}
