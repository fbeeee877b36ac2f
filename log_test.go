package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"INFO", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"unknown", logrus.InfoLevel},
		{"", logrus.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), tt.input)
	}
}

func TestOpenLogOutput(t *testing.T) {
	w, closer, err := openLogOutput("stdout")
	require.NoError(t, err)
	assert.Equal(t, os.Stdout, w)
	assert.NoError(t, closer())

	w, _, err = openLogOutput("")
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)
}

func TestNewLoggerWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slidectl.log")
	log, closer, err := newLogger(LoggerConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	log.ChildLogger(map[string]interface{}{"req": "01ABC"}).Debugf("sent %s", CommandLeft)
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"msg":"sent LEFT"`), line)
	assert.True(t, strings.Contains(line, `"req":"01ABC"`), line)
}
