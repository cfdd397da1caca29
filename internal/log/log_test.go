package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldsPairsAndSkips(t *testing.T) {
	f := fields("a", 1, 2, "skipped", "b", "x", "dangling")
	assert.Equal(t, 1, f["a"])
	assert.Equal(t, "x", f["b"])
	assert.Len(t, f, 2)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel(" Error "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetLevel(LevelInfo)

	SetLevel(LevelError)
	Info("hidden", "k", "v")
	assert.Empty(t, buf.String())

	Error("shown", errors.New("boom"), "path", "/tmp/x")
	out := buf.String()
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "path=/tmp/x")
}
