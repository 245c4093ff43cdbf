package flag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "flaggate/pkg/domainerrors"
)

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "checkout_v2", NormalizeKey("  Checkout_V2 "))
	assert.Equal(t, "a-b", NormalizeKey("A-B"))
}

func TestValidateKey(t *testing.T) {
	valid := []string{"checkout_v2", "a", "new-nav", "x1", "a_b-c3"}
	for _, key := range valid {
		assert.NoError(t, ValidateKey(key), "key %q", key)
	}

	invalid := map[string]string{
		"":               "empty",
		"_hidden":        "leading underscore",
		"Checkout":       "uppercase",
		"has space":      "space",
		"dot.key":        "dot",
		"health":         "reserved",
		"admin":          "reserved",
		"cache":          "reserved",
		"debug":          "reserved",
		strings.Repeat("a", 300): "too long",
	}
	for key, why := range invalid {
		err := ValidateKey(key)
		assert.Error(t, err, "key rejected for %s", why)
		assert.Equal(t, dErrors.CodeBadRequest, dErrors.CodeOf(err))
	}
}

func TestClampPercentage(t *testing.T) {
	assert.Equal(t, 0.0, ClampPercentage(-3))
	assert.Equal(t, 100.0, ClampPercentage(250))
	assert.Equal(t, 33.33, ClampPercentage(33.333))
	assert.Equal(t, 66.67, ClampPercentage(66.666))
	assert.Equal(t, 50.0, ClampPercentage(50))
}
