package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	lvl, ok := parseLevel(" WARN ")
	assert.True(t, ok)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, ok = parseLevel("")
	assert.False(t, ok)

	_, ok = parseLevel("verbose")
	assert.False(t, ok)
}

func TestGetLoggerNeverNil(t *testing.T) {
	assert.NotNil(t, GetLogger())
}
