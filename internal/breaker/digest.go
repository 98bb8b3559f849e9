package breaker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Digest produces a stable content hash of JSON-normalized tool input.
// Two inputs share a digest iff their normalized forms are byte-equal:
// object keys sorted, no insignificant whitespace.
func Digest(input json.RawMessage) string {
	normalized := normalizeJSON(input)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalizeJSON(input json.RawMessage) string {
	if len(input) == 0 {
		return "null"
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		// Unparseable input hashes as raw bytes.
		return string(input)
	}
	var sb strings.Builder
	writeNormalized(&sb, v)
	return sb.String()
}

func writeNormalized(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encoded, _ := json.Marshal(k)
			sb.Write(encoded)
			sb.WriteByte(':')
			writeNormalized(sb, val[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeNormalized(sb, item)
		}
		sb.WriteByte(']')
	case string:
		encoded, _ := json.Marshal(val)
		sb.Write(encoded)
	case float64:
		sb.WriteString(formatJSONNumber(val))
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case nil:
		sb.WriteString("null")
	default:
		encoded, _ := json.Marshal(val)
		sb.Write(encoded)
	}
}

func formatJSONNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	encoded, _ := json.Marshal(f)
	return string(encoded)
}
