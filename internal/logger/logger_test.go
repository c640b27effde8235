package logger

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityThresholdFiltersLogs(t *testing.T) {
	var buf bytes.Buffer
	Init(WARNING, "text", &buf)

	Tracef("trace %s", "msg")
	Debugf("debug %s", "msg")
	assert.Empty(t, buf.String(), "trace/debug must be suppressed at WARNING threshold")

	Warnf("warn %s", "msg")
	assert.Regexp(t, regexp.MustCompile("severity=WARNING"), buf.String())
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(INFO, "json", &buf)

	Infof("hello %d", 42)
	assert.Regexp(t, regexp.MustCompile(`"severity":"INFO"`), buf.String())
	assert.Regexp(t, regexp.MustCompile(`hello 42`), buf.String())
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity("debug")
	assert.NoError(t, err)
	assert.Equal(t, DEBUG, s)

	_, err = ParseSeverity("bogus")
	assert.Error(t, err)
}
