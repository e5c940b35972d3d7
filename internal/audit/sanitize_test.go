package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRedactsSensitiveFields(t *testing.T) {
	in := map[string]any{
		"username":      "alice",
		"password":      "hunter2",
		"Token":         "abc",
		"api_key":       "k",
		"refresh_token": "r",
		"CreditCard":    "4111",
		"nested": map[string]any{
			"secret": "s",
			"note":   "keep",
		},
		"items": []any{
			map[string]any{"cvv": "123", "label": "ok"},
			"plain string",
		},
	}

	out := Sanitize(in)

	assert.Equal(t, "alice", out["username"])
	assert.Equal(t, Redacted, out["password"])
	assert.Equal(t, Redacted, out["Token"], "matching is case-insensitive")
	assert.Equal(t, Redacted, out["api_key"])
	assert.Equal(t, Redacted, out["refresh_token"], "variants containing a sensitive word match")
	assert.Equal(t, Redacted, out["CreditCard"])

	nested := out["nested"].(map[string]any)
	assert.Equal(t, Redacted, nested["secret"])
	assert.Equal(t, "keep", nested["note"])

	items := out["items"].([]any)
	first := items[0].(map[string]any)
	assert.Equal(t, Redacted, first["cvv"])
	assert.Equal(t, "ok", first["label"])
	assert.Equal(t, "plain string", items[1])
}

func TestSanitizeDoesNotMutateInput(t *testing.T) {
	in := map[string]any{"password": "hunter2"}
	_ = Sanitize(in)
	assert.Equal(t, "hunter2", in["password"])
}

func TestSanitizeIdempotent(t *testing.T) {
	in := map[string]any{
		"password": "hunter2",
		"nested":   map[string]any{"token": "t", "ok": "v"},
	}
	once := Sanitize(in)
	twice := Sanitize(once)
	assert.Equal(t, once, twice)
}

func TestSanitizeNil(t *testing.T) {
	assert.Nil(t, Sanitize(nil))
}
