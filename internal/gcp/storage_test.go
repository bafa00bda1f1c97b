package gcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGSURL(t *testing.T) {
	bucket, object, err := ParseGSURL("gs://signage-docs/plans/2026/bono.pdf")
	require.NoError(t, err)
	assert.Equal(t, "signage-docs", bucket)
	assert.Equal(t, "plans/2026/bono.pdf", object)

	for _, bad := range []string{"https://x/y.pdf", "gs://", "gs://bucket", "gs://bucket/"} {
		_, _, err := ParseGSURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("DISPLAY_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("DISPLAY_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("DISPLAY_TEST_UNSET_VALUE", "fallback"))
}
