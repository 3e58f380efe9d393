package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFallbacks(t *testing.T) {
	t.Setenv("HUB_TEST_INT", "abc")
	t.Setenv("HUB_TEST_BOOL", "nope")
	t.Setenv("HUB_TEST_DURATION", "-5s")

	assert.Equal(t, "x", String("HUB_TEST_MISSING", "x"))
	assert.Equal(t, 7, Int("HUB_TEST_INT", 7))
	assert.True(t, Bool("HUB_TEST_BOOL", true))
	assert.Equal(t, time.Minute, Duration("HUB_TEST_DURATION", time.Minute))
}

func TestParsedValues(t *testing.T) {
	t.Setenv("HUB_TEST_INT", " 42 ")
	t.Setenv("HUB_TEST_DURATION", "90s")
	t.Setenv("HUB_TEST_CSV", "a, b,,a ,c")

	assert.Equal(t, 42, Int("HUB_TEST_INT", 1))
	assert.Equal(t, 90*time.Second, Duration("HUB_TEST_DURATION", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, CSV("HUB_TEST_CSV", nil))
}
