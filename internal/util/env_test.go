package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("TRACKTRIP_TEST_VALUE", "")
	assert.Equal(t, "fallback", EnvOrDefault("TRACKTRIP_TEST_VALUE", "fallback"))

	t.Setenv("TRACKTRIP_TEST_VALUE", "set")
	assert.Equal(t, "set", EnvOrDefault("TRACKTRIP_TEST_VALUE", "fallback"))
}

func TestDurationOrDefault(t *testing.T) {
	t.Setenv("TRACKTRIP_TEST_DURATION", "30s")
	assert.Equal(t, 30*time.Second, DurationOrDefault("TRACKTRIP_TEST_DURATION", time.Second))

	for _, raw := range []string{"", "soon", "-5s"} {
		t.Setenv("TRACKTRIP_TEST_DURATION", raw)
		assert.Equal(t, time.Second, DurationOrDefault("TRACKTRIP_TEST_DURATION", time.Second), raw)
	}
}
