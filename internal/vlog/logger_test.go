package vlog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerVerbosity(t *testing.T) {
	t.Run("debug suppressed when quiet", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewWithWriter(&buf, "10.0.0.1:5185", false)

		l.Debugf("hidden %d", 1)
		l.Clockf("hidden clock")
		assert.Empty(t, buf.String())

		l.Infof("shown")
		assert.Contains(t, buf.String(), "info 10.0.0.1:5185: shown")
	})

	t.Run("debug printed when verbose", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewWithWriter(&buf, "node", true)

		l.Debugf("value=%d", 7)
		l.Clockf("Timestamp @%d: %s", 3, "tick")
		out := buf.String()
		assert.Contains(t, out, "debug node: value=7")
		assert.Contains(t, out, "debug node: Timestamp @3: tick")
		assert.NotContains(t, out, "\033[", "colors only on stderr")
	})

	t.Run("errors always printed and renamed", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewWithWriter(&buf, "old", false)
		l.SetName("new")
		l.Errorf("boom")
		assert.Contains(t, buf.String(), "ERROR new: boom")
	})

	t.Run("toggle verbose", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewWithWriter(&buf, "n", false)
		assert.False(t, l.Verbose())
		l.SetVerbose(true)
		assert.True(t, l.Verbose())
		l.Debugf("now visible")
		assert.Contains(t, buf.String(), "now visible")
	})
}
