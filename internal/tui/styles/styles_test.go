package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerdict(t *testing.T) {
	assert.Contains(t, Verdict(true), "PASS")
	assert.Contains(t, Verdict(false), "FAIL")
}

func TestErrorLevel(t *testing.T) {
	assert.Equal(t, Error, ErrorLevel(10))
	assert.Equal(t, Warn, ErrorLevel(2))
	assert.Equal(t, Active, ErrorLevel(0.5))
}

func TestRenderKey(t *testing.T) {
	out := RenderKey("q", "quit")
	assert.Contains(t, out, "<q>")
	assert.Contains(t, out, "quit")
}
