package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithWriter_WritesPlainLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	l.Info("order", "created ORD-1")
	l.LogSecurity("signature", "bad webhook signature")

	out := buf.String()
	assert.Contains(t, out, "INFO  [ORDER     ] created ORD-1")
	assert.Contains(t, out, "WARN  [SECURITY  ] [signature] bad webhook signature")
	assert.Contains(t, out, "logger_test.go")
	assert.NotContains(t, out, "\x1b[", "writer logger must not emit colour codes")
}

func TestMinLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)
	l.minLevel = WARN

	l.Debug("APP", "noise")
	l.Info("APP", "more noise")
	l.Error("APP", "boom")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], "boom")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, parseLevel("debug"))
	assert.Equal(t, WARN, parseLevel("WARN"))
	assert.Equal(t, ERROR, parseLevel("error"))
	assert.Equal(t, INFO, parseLevel(""))
}
