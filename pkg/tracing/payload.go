// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxPayloadBytes bounds the encoded size of a span payload.
const DefaultMaxPayloadBytes = 4096

const previewBytes = 256

// boundPayload returns a JSON-normalized copy of v. Payloads whose encoding
// exceeds max bytes are replaced by a marker carrying the size and a preview.
func boundPayload(v map[string]any, max int) map[string]any {
	if len(v) == 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{
			"_unserializable": true,
			"_preview":        preview(fmt.Sprintf("%v", v)),
		}
	}
	if max > 0 && len(data) > max {
		return map[string]any{
			"_truncated": true,
			"_size":      len(data),
			"_preview":   preview(string(data)),
		}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"_unserializable": true}
	}
	return out
}

func preview(s string) string {
	if len(s) <= previewBytes {
		return s
	}
	cut := s[:previewBytes]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return strings.TrimSpace(cut) + "..."
}

// IsTruncated reports whether a stored payload is a truncation marker.
func IsTruncated(p map[string]any) bool {
	v, _ := p["_truncated"].(bool)
	return v
}
