package console

import (
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestTruncateStringBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("result never exceeds max runes", prop.ForAll(
		func(s string, max int) bool {
			return utf8.RuneCountInString(TruncateString(s, max)) <= max
		},
		gen.AnyString(),
		gen.IntRange(1, 80),
	))

	properties.Property("strings within the limit are unchanged", prop.ForAll(
		func(s string) bool {
			return TruncateString(s, utf8.RuneCountInString(s)+1) == s
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestTruncateValueBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	opts := TruncateOptions{
		MaxStringLen: 20,
		MaxArrayLen:  5,
		MaxDepth:     3,
		MaxKeys:      4,
	}

	properties.Property("arrays keep at most max elements plus one marker", prop.ForAll(
		func(n int) bool {
			arr := make([]any, n)
			for i := range arr {
				arr[i] = float64(i)
			}
			out, ok := TruncateValue(arr, opts).([]any)
			if !ok {
				return false
			}
			return len(out) <= opts.MaxArrayLen+1
		},
		gen.IntRange(0, 50),
	))

	properties.Property("strings inside values respect the string limit", prop.ForAll(
		func(s string) bool {
			out, ok := TruncateValue([]any{s}, opts).([]any)
			if !ok || len(out) != 1 {
				return false
			}
			str, ok := out[0].(string)
			return ok && utf8.RuneCountInString(str) <= opts.MaxStringLen
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestTruncateValueDepthLimit(t *testing.T) {
	opts := TruncateOptions{MaxStringLen: 100, MaxArrayLen: 10, MaxDepth: 2, MaxKeys: 10}

	deep := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": "never seen",
			},
		},
	}

	out := TruncateValue(deep, opts).(map[string]any)
	inner := out["a"].(map[string]any)
	if inner["b"] != depthMarker {
		t.Fatalf("expected depth marker at level 2, got %v", inner["b"])
	}
}

func TestTruncateValueKeyCap(t *testing.T) {
	opts := TruncateOptions{MaxStringLen: 100, MaxArrayLen: 10, MaxDepth: 5, MaxKeys: 2}

	wide := map[string]any{"a": 1, "b": 2, "c": 3, "d": 4}
	out := TruncateValue(wide, opts).(map[string]any)

	if len(out) != 3 {
		t.Fatalf("expected 2 kept keys plus marker, got %d entries", len(out))
	}
	if _, ok := out[morePropsKey]; !ok {
		t.Fatal("expected a more-properties marker entry")
	}
}

func TestTruncateValueArrayMarker(t *testing.T) {
	opts := TruncateOptions{MaxStringLen: 100, MaxArrayLen: 3, MaxDepth: 5, MaxKeys: 10}

	arr := []any{1.0, 2.0, 3.0, 4.0, 5.0}
	out := TruncateValue(arr, opts).([]any)

	if len(out) != 4 {
		t.Fatalf("expected 3 elements plus marker, got %d", len(out))
	}
	if out[3] != "... 2 more items" {
		t.Fatalf("unexpected remainder marker: %v", out[3])
	}
}

func TestClassifyOrigin(t *testing.T) {
	cases := []struct {
		url  string
		want Origin
	}{
		{"", OriginUnknown},
		{"https://app.example.com/editor", OriginHostApp},
		{"https://app.example.com/plugin/runtime.js", OriginSandbox},
		{"about:srcdoc", OriginSandbox},
		{"blob:https://app.example.com/1234", OriginSandbox},
		{"data:text/html,hello", OriginSandbox},
		{"https://sandbox.example.com/vm.js", OriginSandbox},
	}

	for _, tc := range cases {
		if got := ClassifyOrigin(tc.url); got != tc.want {
			t.Errorf("ClassifyOrigin(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://a.example.com/file/abc?node=1#frag", "https://a.example.com/file/abc"},
		{"https://a.example.com/file/abc#other", "https://a.example.com/file/abc"},
		{"https://a.example.com/file/xyz", "https://a.example.com/file/xyz"},
		{"not a url", "not a url"},
	}

	for _, tc := range cases {
		if got := NormalizeBaseURL(tc.in); got != tc.want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
