package normalize_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/ormgate-tech/ormgate/core/normalize"
	"github.com/ormgate-tech/ormgate/core/store"
)

func TestDatetimeCanonicalAndStable(t *testing.T) {
	ctx := context.Background()
	timestamp := time.Date(2024, 3, 17, 9, 30, 5, 0, time.UTC)

	first := normalize.Value(ctx, "create_date", timestamp)
	second := normalize.Value(ctx, "create_date", timestamp)

	if first != "2024-03-17 09:30:05" {
		t.Fatalf("unexpected canonical datetime: %v", first)
	}
	if first != second {
		t.Fatalf("normalization is not deterministic: %v != %v", first, second)
	}

	// a non-UTC timestamp normalizes to the same canonical UTC string
	local := timestamp.In(time.FixedZone("CET", 3600))
	if got := normalize.Value(ctx, "create_date", local); got != first {
		t.Fatalf("timezone leaked into canonical format: %v", got)
	}
}

func TestDate(t *testing.T) {
	got := normalize.Value(context.Background(), "birthday", store.Date{Year: 1999, Month: 7, Day: 4})
	if got != "1999-07-04" {
		t.Fatalf("unexpected date: %v", got)
	}
}

func TestBinaryUTF8StaysText(t *testing.T) {
	got := normalize.Value(context.Background(), "notes", []byte("héllo wörld"))
	if got != "héllo wörld" {
		t.Fatalf("valid UTF-8 should decode to text, got %v", got)
	}
}

func TestBinaryFallsBackToBase64(t *testing.T) {
	raw := []byte{0xff, 0xfe, 0x00, 0x89, 0x50, 0x4e, 0x47}
	got := normalize.Value(context.Background(), "image", raw)

	encoded, ok := got.(string)
	if !ok {
		t.Fatalf("expected a base64 string, got %T", got)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("fallback is not valid base64: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Fatalf("base64 round trip lost data: %v != %v", decoded, raw)
	}
}

func TestReferences(t *testing.T) {
	ctx := context.Background()

	got := normalize.Value(ctx, "company_id", store.Reference{ID: 3, Label: "ACME"})
	pair, ok := got.([]interface{})
	if !ok || len(pair) != 2 || pair[0] != int64(3) || pair[1] != "ACME" {
		t.Fatalf("unexpected reference normalization: %v", got)
	}

	many := normalize.Value(ctx, "child_ids", []store.Reference{{ID: 1, Label: "a"}, {ID: 2, Label: "b"}})
	list, ok := many.([]interface{})
	if !ok || len(list) != 2 {
		t.Fatalf("unexpected to-many normalization: %v", many)
	}
}

func TestPrimitivesPassThrough(t *testing.T) {
	ctx := context.Background()
	for _, value := range []interface{}{nil, true, int64(9), 3.14, "text"} {
		if got := normalize.Value(ctx, "field", value); got != value {
			t.Fatalf("primitive %v should pass through, got %v", value, got)
		}
	}
}

func TestRecursion(t *testing.T) {
	ctx := context.Background()
	record := map[string]interface{}{
		"name": "order",
		"lines": []interface{}{
			map[string]interface{}{"created": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
	got := normalize.Map(ctx, record)
	lines := got["lines"].([]interface{})
	line := lines[0].(map[string]interface{})
	if line["created"] != "2024-01-01 00:00:00" {
		t.Fatalf("nested timestamp not normalized: %v", line["created"])
	}
}

func TestUnknownTypeBecomesString(t *testing.T) {
	got := normalize.Value(context.Background(), "weird", complex(1, 2))
	if _, ok := got.(string); !ok {
		t.Fatalf("unexpected fallback value %v of type %T", got, got)
	}
}
