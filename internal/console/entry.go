// Package console provides a bounded, queryable history of everything the
// host process and its sandboxed sub-contexts write to the console.
package console

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deckbridge/deckbridge/internal/devtool"
)

// Origin tags which surface produced a log entry.
type Origin string

const (
	// OriginHostApp is the host application's own surface.
	OriginHostApp Origin = "host-app"
	// OriginSandbox is a plugin-sandbox surface.
	OriginSandbox Origin = "plugin-sandbox"
	// OriginUnknown is a surface we cannot attribute.
	OriginUnknown Origin = "unknown"
)

// LogEntry is one captured console line. Immutable once created; owned
// exclusively by the monitor's buffer.
type LogEntry struct {
	Timestamp time.Time            `json:"timestamp"`
	Level     string               `json:"level"`
	Message   string               `json:"message"`
	Args      []any                `json:"args,omitempty"`
	Origin    Origin               `json:"origin"`
	ContextID string               `json:"context_id,omitempty"`
	Stack     []devtool.StackFrame `json:"stack,omitempty"`
}

// URL markers identifying plugin-sandbox surfaces. Sandbox code runs out of
// synthetic documents and plugin-scoped resources, never the application
// origin itself.
var sandboxURLMarkers = []string{
	"plugin",
	"sandbox",
	"about:srcdoc",
	"blob:",
	"data:",
}

// ClassifyOrigin tags an event source URL as host application, plugin
// sandbox or unknown.
func ClassifyOrigin(sourceURL string) Origin {
	if sourceURL == "" {
		return OriginUnknown
	}
	lower := strings.ToLower(sourceURL)
	for _, marker := range sandboxURLMarkers {
		if strings.Contains(lower, marker) {
			return OriginSandbox
		}
	}
	return OriginHostApp
}

// Truncation markers.
const (
	truncatedMarker = "...[truncated]"
	depthMarker     = "[max depth reached]"
	morePropsKey    = "..."
)

// TruncateOptions bounds the size of stored log values. This exists purely
// to bound memory: arbitrary host-application values must never grow the
// buffer without limit.
type TruncateOptions struct {
	MaxStringLen int
	MaxArrayLen  int
	MaxDepth     int
	MaxKeys      int
}

// DefaultTruncateOptions returns the default truncation limits.
func DefaultTruncateOptions() TruncateOptions {
	return TruncateOptions{
		MaxStringLen: 1000,
		MaxArrayLen:  25,
		MaxDepth:     4,
		MaxKeys:      50,
	}
}

// TruncateString cuts a string to the limit, ending in a truncation marker.
// The result never exceeds max runes.
func TruncateString(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	markerLen := utf8.RuneCountInString(truncatedMarker)
	if max <= markerLen {
		return string(runes[:max])
	}
	return string(runes[:max-markerLen]) + truncatedMarker
}

// TruncateValue recursively bounds a decoded JSON value: long strings are
// cut, long arrays keep the first elements plus a remainder marker, deep
// nesting is replaced with a depth marker, and wide objects keep a capped
// key set plus a remainder entry.
func TruncateValue(v any, opts TruncateOptions) any {
	return truncateValue(v, opts, 0)
}

func truncateValue(v any, opts TruncateOptions, depth int) any {
	switch val := v.(type) {
	case string:
		return TruncateString(val, opts.MaxStringLen)

	case []any:
		if depth >= opts.MaxDepth {
			return depthMarker
		}
		n := len(val)
		keep := n
		if opts.MaxArrayLen > 0 && n > opts.MaxArrayLen {
			keep = opts.MaxArrayLen
		}
		out := make([]any, 0, keep+1)
		for i := 0; i < keep; i++ {
			out = append(out, truncateValue(val[i], opts, depth+1))
		}
		if keep < n {
			out = append(out, fmt.Sprintf("... %d more items", n-keep))
		}
		return out

	case map[string]any:
		if depth >= opts.MaxDepth {
			return depthMarker
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		keep := len(keys)
		if opts.MaxKeys > 0 && keep > opts.MaxKeys {
			keep = opts.MaxKeys
		}
		out := make(map[string]any, keep+1)
		for _, k := range keys[:keep] {
			out[k] = truncateValue(val[k], opts, depth+1)
		}
		if keep < len(keys) {
			out[morePropsKey] = fmt.Sprintf("%d more properties", len(keys)-keep)
		}
		return out

	default:
		return v
	}
}
