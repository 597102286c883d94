package stdlib

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haileyok/osprey/entity"
	"github.com/haileyok/osprey/errors"
	"github.com/haileyok/osprey/udf"
)

// fakeContext backs UDF calls in tests.
type fakeContext struct {
	action string
	data   map[string]any
}

func (f *fakeContext) ActionName() string         { return f.action }
func (f *fakeContext) Data() map[string]any       { return f.data }
func (f *fakeContext) Feature(string) (any, bool) { return nil, false }

func invoke(t *testing.T, name string, args map[string]any, execCtx udf.ExecContext) (any, error) {
	t.Helper()
	for _, spec := range Specs() {
		if spec.Name == name {
			return spec.Fn(context.Background(), &udf.Call{Args: args, Context: execCtx})
		}
	}
	t.Fatalf("no such udf: %s", name)
	return nil, nil
}

func TestRegister(t *testing.T) {
	registry := udf.NewRegistry()
	require.NoError(t, Register(registry))

	for _, name := range []string{
		"action_name", "json_data", "entity", "entity_json",
		"list_length", "regex_match", "string_contains", "email_domain", "time_since",
	} {
		_, ok := registry.Lookup(name)
		assert.True(t, ok, "missing udf %s", name)
	}

	// Double registration is an error.
	require.Error(t, Register(registry))
}

func TestActionName(t *testing.T) {
	out, err := invoke(t, "action_name", nil, &fakeContext{action: "user_post"})
	require.NoError(t, err)
	assert.Equal(t, "user_post", out)
}

func TestJsonData(t *testing.T) {
	execCtx := &fakeContext{data: map[string]any{
		"user": map[string]any{
			"email":    "alice@example.com",
			"mentions": []any{"did:a", "did:b"},
			"bio":      nil,
		},
		"post_count": float64(3),
	}}

	tests := []struct {
		name    string
		path    string
		want    any
		absent  bool
	}{
		{name: "top level", path: "post_count", want: float64(3)},
		{name: "nested", path: "user.email", want: "alice@example.com"},
		{name: "list index", path: "user.mentions.1", want: "did:b"},
		{name: "missing key", path: "user.phone", absent: true},
		{name: "missing parent", path: "account.email", absent: true},
		{name: "index out of range", path: "user.mentions.9", absent: true},
		{name: "non-numeric index", path: "user.mentions.first", absent: true},
		{name: "null value", path: "user.bio", absent: true},
		{name: "descend through scalar", path: "post_count.more", absent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := invoke(t, "json_data", map[string]any{"path": tt.path}, execCtx)
			if tt.absent {
				assert.True(t, errors.Is(err, udf.ErrAbsent))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestEntity(t *testing.T) {
	out, err := invoke(t, "entity", map[string]any{"type": "Account", "id": "did:alice"}, &fakeContext{})
	require.NoError(t, err)
	assert.Equal(t, entity.Entity{Type: "Account", ID: "did:alice"}, out)

	// Numeric IDs render without a decimal point.
	out, err = invoke(t, "entity", map[string]any{"type": "Account", "id": float64(42)}, &fakeContext{})
	require.NoError(t, err)
	assert.Equal(t, entity.Entity{Type: "Account", ID: "42"}, out)

	_, err = invoke(t, "entity", map[string]any{"type": "Account"}, &fakeContext{})
	assert.Error(t, err)
}

func TestEntityJson(t *testing.T) {
	execCtx := &fakeContext{data: map[string]any{
		"post": map[string]any{"uri": "at://post/1"},
	}}

	out, err := invoke(t, "entity_json", map[string]any{"type": "Post", "path": "post.uri"}, execCtx)
	require.NoError(t, err)
	assert.Equal(t, entity.Entity{Type: "Post", ID: "at://post/1"}, out)

	_, err = invoke(t, "entity_json", map[string]any{"type": "Post", "path": "post.missing"}, execCtx)
	assert.True(t, errors.Is(err, udf.ErrAbsent))
}

func TestListLength(t *testing.T) {
	out, err := invoke(t, "list_length", map[string]any{"items": []any{1, 2, 3}}, &fakeContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)

	out, err = invoke(t, "list_length", map[string]any{"items": []any{}}, &fakeContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), out)

	_, err = invoke(t, "list_length", map[string]any{"items": "nope"}, &fakeContext{})
	assert.Error(t, err)
}

func TestRegexMatch(t *testing.T) {
	args := func(pattern, value string) map[string]any {
		return map[string]any{"pattern": pattern, "value": value}
	}

	out, err := invoke(t, "regex_match", args(`^at://`, "at://post/1"), &fakeContext{})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = invoke(t, "regex_match", args(`^at://`, "https://example.com"), &fakeContext{})
	require.NoError(t, err)
	assert.Equal(t, false, out)

	// Compiled patterns are cached; a second call uses the cached regex.
	out, err = invoke(t, "regex_match", args(`^at://`, "at://post/2"), &fakeContext{})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	_, err = invoke(t, "regex_match", args(`[unclosed`, "x"), &fakeContext{})
	assert.Error(t, err)

	_, err = invoke(t, "regex_match", args(`(a+)+$`, "x"), &fakeContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backtracking")
}

func TestStringContains(t *testing.T) {
	out, err := invoke(t, "string_contains",
		map[string]any{"value": "free crypto offer", "substring": "crypto"}, &fakeContext{})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = invoke(t, "string_contains",
		map[string]any{"value": "hello", "substring": "crypto"}, &fakeContext{})
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestEmailDomain(t *testing.T) {
	out, err := invoke(t, "email_domain", map[string]any{"value": "Alice@Example.COM"}, &fakeContext{})
	require.NoError(t, err)
	assert.Equal(t, "example.com", out)

	_, err = invoke(t, "email_domain", map[string]any{"value": "not-an-email"}, &fakeContext{})
	assert.True(t, errors.Is(err, udf.ErrAbsent))

	_, err = invoke(t, "email_domain", map[string]any{"value": "trailing@"}, &fakeContext{})
	assert.True(t, errors.Is(err, udf.ErrAbsent))
}

func TestTimeSince(t *testing.T) {
	recent := time.Now().Add(-90 * time.Second).Format(time.RFC3339)
	out, err := invoke(t, "time_since", map[string]any{"value": recent}, &fakeContext{})
	require.NoError(t, err)
	seconds, ok := out.(float64)
	require.True(t, ok)
	assert.InDelta(t, 90, seconds, 5)

	epoch := float64(time.Now().Add(-1 * time.Hour).Unix())
	out, err = invoke(t, "time_since", map[string]any{"value": epoch}, &fakeContext{})
	require.NoError(t, err)
	assert.InDelta(t, 3600, out.(float64), 5)

	_, err = invoke(t, "time_since", map[string]any{"value": "yesterday"}, &fakeContext{})
	assert.Error(t, err)

	_, err = invoke(t, "time_since", map[string]any{"value": true}, &fakeContext{})
	assert.Error(t, err)
}
