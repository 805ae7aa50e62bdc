package identity

import (
	"encoding/json"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const oid = "64b7f0c2e4b0a1a2b3c4d5e6"

func TestNormalizeShapes(t *testing.T) {
	objID, _ := primitive.ObjectIDFromHex(oid)

	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"raw id", oid, oid},
		{"padded raw id", "  " + oid + " ", oid},
		{"uuid", "019bb6d7-8bb8-7a5c-b163-8cf8d362a474", "019bb6d7-8bb8-7a5c-b163-8cf8d362a474"},
		{"object id value", objID, oid},
		{"embedded object", map[string]any{"_id": oid, "username": "bob"}, oid},
		{"embedded id key", map[string]any{"id": oid}, oid},
		{"extended json", map[string]any{"_id": map[string]any{"$oid": oid}}, oid},
		{"json string", `{"_id":"` + oid + `","username":"bob"}`, oid},
		{"json encoded string", `"` + oid + `"`, oid},
		{"debug literal", `{ _id: new ObjectId("` + oid + `"), username: 'bob' }`, oid},
		{"debug literal single quotes", `{ _id: ObjectId('` + oid + `') }`, oid},
		{"bare object id", `ObjectId("` + oid + `")`, oid},
		{"number", float64(42), "42"},
		{"nil", nil, ""},
		{"empty", "", ""},
		{"opaque key", "user-17", "user-17"},
		{"object without id", map[string]any{"username": "bob"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Fatalf("Normalize(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeRoundTrip(t *testing.T) {
	embedded := map[string]any{"_id": oid, "username": "bob", "avatar": "x.png"}
	encoded, err := json.Marshal(embedded)
	if err != nil {
		t.Fatal(err)
	}

	forms := []any{oid, embedded, string(encoded)}
	for _, f := range forms {
		if got := Normalize(f); got != oid {
			t.Fatalf("Normalize(%v) = %q, want %q", f, got, oid)
		}
	}
}

func TestNormalizeNeverPanics(t *testing.T) {
	inputs := []any{
		"{", "{{{", `{"_id":`, []any{1, 2}, struct{ X int }{1},
		map[string]any{"_id": map[string]any{"_id": map[string]any{"_id": map[string]any{"_id": map[string]any{"_id": oid}}}}},
	}
	for _, in := range inputs {
		_ = Normalize(in)
	}
}

func TestIDUnmarshal(t *testing.T) {
	var payload struct {
		To   ID `json:"toUserId"`
		From ID `json:"fromUserId"`
		Post ID `json:"postId"`
		Gone ID `json:"gone"`
	}
	raw := `{
		"toUserId": {"_id": "` + oid + `", "username": "bob"},
		"fromUserId": "{\"_id\":\"` + oid + `\"}",
		"postId": "` + oid + `",
		"gone": null
	}`
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.To != oid || payload.From != oid || payload.Post != oid {
		t.Fatalf("unexpected ids: %+v", payload)
	}
	if !payload.Gone.IsZero() {
		t.Fatalf("null should decode to empty id, got %q", payload.Gone)
	}
}

func TestFallbackPathsAreCounted(t *testing.T) {
	before := Snapshot()
	if _, path := NormalizeWithPath(`{ _id: ObjectId('` + oid + `') }`); path != PathLiteral {
		t.Fatalf("path = %s, want %s", path, PathLiteral)
	}
	if after := Snapshot(); after.Literal != before.Literal+1 {
		t.Fatalf("literal counter = %d, want %d", after.Literal, before.Literal+1)
	}
}
