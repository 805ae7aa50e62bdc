package identity

import (
	"encoding/json"
	"strings"
)

// ID is a canonical id string. Decoding it from JSON accepts every shape Normalize
// understands, so DTO fields typed ID are normalized exactly once, at the boundary.
type ID string

func (id ID) String() string { return string(id) }
func (id ID) IsZero() bool   { return strings.TrimSpace(string(id)) == "" }

// UnmarshalJSON never fails: an unparsable value degrades to its best-effort string form.
func (id *ID) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		s, _ := NormalizeWithPath(string(b))
		*id = ID(s)
		return nil
	}
	s, _ := NormalizeWithPath(raw)
	*id = ID(s)
	return nil
}

// Strings converts a list of ids, skipping empty ones.
func Strings(ids []ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !id.IsZero() {
			out = append(out, string(id))
		}
	}
	return out
}
