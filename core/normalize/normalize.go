// Package normalize converts store-native field values into JSON-safe values.
package normalize

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ormgate-tech/ormgate/core/logger"
	"github.com/ormgate-tech/ormgate/core/store"
)

// CanonicalDatetime is the store's canonical timestamp representation.
const CanonicalDatetime = "2006-01-02 15:04:05"

// Map normalizes a full field-value map as returned by the record store.
func Map(ctx context.Context, data map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(data))
	for key, value := range data {
		result[key] = Value(ctx, key, value)
	}
	return result
}

// Maps normalizes a sequence of field-value maps.
func Maps(ctx context.Context, records []map[string]interface{}) []map[string]interface{} {
	result := make([]map[string]interface{}, len(records))
	for i, record := range records {
		result[i] = Map(ctx, record)
	}
	return result
}

// Value normalizes a single field value. The field name is only used for
// diagnostics when an unanticipated type is encountered.
func Value(ctx context.Context, field string, value interface{}) interface{} {
	switch v := value.(type) {
	case nil, bool, int, int32, int64, float32, float64, string:
		return v
	case time.Time:
		return v.UTC().Format(CanonicalDatetime)
	case store.Date:
		return v.String()
	case []byte:
		// human-readable text stays human-readable; only true binary
		// falls back to base64
		if utf8.Valid(v) {
			return string(v)
		}
		logger.FromContext(ctx).Warningf("field %s is not valid UTF-8, falling back to base64", field)
		return base64.StdEncoding.EncodeToString(v)
	case store.Reference:
		return []interface{}{v.ID, v.Label}
	case []store.Reference:
		refs := make([]interface{}, len(v))
		for i, ref := range v {
			refs[i] = []interface{}{ref.ID, ref.Label}
		}
		return refs
	case []interface{}:
		seq := make([]interface{}, len(v))
		for i, item := range v {
			seq[i] = Value(ctx, field, item)
		}
		return seq
	case []map[string]interface{}:
		return Maps(ctx, v)
	case map[string]interface{}:
		return Map(ctx, v)
	default:
		// safety net against unanticipated store types
		logger.FromContext(ctx).Warningf("field %s has unexpected type %T, falling back to string representation", field, value)
		return fmt.Sprint(value)
	}
}
