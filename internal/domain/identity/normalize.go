// Package identity canonicalizes the user and entity references that upstream services
// serialize inconsistently: raw ids, populated documents, JSON strings and debug-printed
// object literals all collapse to one id string.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Path names the branch of Normalize that produced a result.
type Path string

const (
	PathCanonical  Path = "canonical"
	PathObject     Path = "object"
	PathJSONString Path = "json_string"
	PathLiteral    Path = "object_literal"
	PathFallback   Path = "fallback"
)

var (
	objectIDShape = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
	uuidShape     = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	// Matches `_id: new ObjectId("…")`, `"id": '…'`, `_id=ObjectID("…")` and similar.
	literalIDPattern = regexp.MustCompile(
		`(?:"|'|\b)(?:_id|id|\$oid)(?:"|')?\s*[:=]\s*(?:new\s+)?(?:ObjectI[dD]\(\s*)?["']?([0-9a-fA-F]{24}|[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`)
	// Bare `ObjectId("…")` without a field name.
	bareObjectIDPattern = regexp.MustCompile(`ObjectI[dD]\(\s*["']?([0-9a-fA-F]{24})["']?\s*\)`)
)

// identityKeys are tried in order on object-shaped references.
var identityKeys = []string{"_id", "id", "$oid", "ID", "Id"}

var stats struct {
	object, jsonString, literal, fallback atomic.Int64
}

var fallbackCounter metric.Int64Counter

func init() {
	c, err := otel.Meter("github.com/webitel/im-notification-service/identity").Int64Counter(
		"identity.normalize.fallback",
		metric.WithDescription("Identity references that needed a non-canonical normalization path"),
	)
	if err == nil {
		fallbackCounter = c
	}
}

// Normalize returns the canonical id string for v. It never panics; input that matches no
// known shape degrades to its string form.
func Normalize(v any) string {
	id, _ := normalize(v, 0)
	return id
}

// NormalizeWithPath is Normalize that also reports which branch resolved the value.
func NormalizeWithPath(v any) (string, Path) {
	id, path := normalize(v, 0)
	record(path, v)
	return id, path
}

const maxDepth = 4

func normalize(v any, depth int) (string, Path) {
	if depth > maxDepth {
		return strings.TrimSpace(fmt.Sprint(v)), PathFallback
	}

	switch t := v.(type) {
	case nil:
		return "", PathCanonical
	case string:
		return normalizeString(t, depth)
	case []byte:
		return normalizeString(string(t), depth)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return normalizeString(string(t), depth)
		}
		return normalize(decoded, depth+1)
	case primitive.ObjectID:
		if t.IsZero() {
			return "", PathCanonical
		}
		return t.Hex(), PathCanonical
	case *primitive.ObjectID:
		if t == nil || t.IsZero() {
			return "", PathCanonical
		}
		return t.Hex(), PathCanonical
	case map[string]any:
		return normalizeMap(t, depth)
	case primitive.M:
		return normalizeMap(map[string]any(t), depth)
	case primitive.D:
		return normalizeMap(t.Map(), depth)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), PathCanonical
	case int:
		return strconv.Itoa(t), PathCanonical
	case int32:
		return strconv.FormatInt(int64(t), 10), PathCanonical
	case int64:
		return strconv.FormatInt(t, 10), PathCanonical
	case json.Number:
		return t.String(), PathCanonical
	case fmt.Stringer:
		return normalizeString(t.String(), depth)
	}

	return strings.TrimSpace(fmt.Sprint(v)), PathFallback
}

func normalizeMap(m map[string]any, depth int) (string, Path) {
	for _, key := range identityKeys {
		if raw, ok := m[key]; ok && raw != nil {
			id, path := normalize(raw, depth+1)
			if id == "" {
				continue
			}
			if path == PathCanonical {
				path = PathObject
			}
			return id, path
		}
	}
	return "", PathFallback
}

func normalizeString(s string, depth int) (string, Path) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", PathCanonical
	}
	if objectIDShape.MatchString(s) || uuidShape.MatchString(s) {
		return s, PathCanonical
	}

	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, `"`) {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			if id, _ := normalize(decoded, depth+1); id != "" {
				return id, PathJSONString
			}
		}
	}

	if m := literalIDPattern.FindStringSubmatch(s); len(m) == 2 {
		return m[1], PathLiteral
	}
	if m := bareObjectIDPattern.FindStringSubmatch(s); len(m) == 2 {
		return m[1], PathLiteral
	}

	// Opaque ids of other shapes (numeric keys, usernames used as ids) pass through.
	if !strings.ContainsAny(s, "{}:\"' ") {
		return s, PathCanonical
	}
	return s, PathFallback
}

func record(path Path, v any) {
	switch path {
	case PathObject:
		stats.object.Add(1)
	case PathJSONString:
		stats.jsonString.Add(1)
	case PathLiteral:
		stats.literal.Add(1)
	case PathFallback:
		stats.fallback.Add(1)
	default:
		return
	}

	if fallbackCounter != nil {
		fallbackCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("path", string(path))))
	}
	slog.Debug("IDENTITY_NORMALIZED", "path", string(path), "type", fmt.Sprintf("%T", v))
}

// Stats is a snapshot of how often each non-canonical path fired since process start.
type Stats struct {
	Object     int64 `json:"object"`
	JSONString int64 `json:"json_string"`
	Literal    int64 `json:"object_literal"`
	Fallback   int64 `json:"fallback"`
}

func Snapshot() Stats {
	return Stats{
		Object:     stats.object.Load(),
		JSONString: stats.jsonString.Load(),
		Literal:    stats.literal.Load(),
		Fallback:   stats.fallback.Load(),
	}
}
