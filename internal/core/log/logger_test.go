package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letmego-core/internal/config/schema"
)

type mockTestingT struct {
	logs []string
}

func (m *mockTestingT) Log(args ...interface{}) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, toString(a))
	}
	m.logs = append(m.logs, strings.Join(parts, " "))
}

func (m *mockTestingT) Logf(format string, args ...interface{}) {
	m.logs = append(m.logs, format)
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()

	logger.Info("test")
	logger.Errorf("test %s", "arg")

	_, ok := logger.WithField("key", "value").(NopLogger)
	assert.True(t, ok, "WithField should return NopLogger")
	_, ok = logger.WithError(nil).(NopLogger)
	assert.True(t, ok, "WithError should return NopLogger")
}

func TestTestLogger_CarriesFields(t *testing.T) {
	mock := &mockTestingT{}
	logger := NewTestLogger(mock).WithField("session", "sess_1")

	logger.Info("established")
	logger.Warnf("degraded after %s", "2s")

	require.Len(t, mock.logs, 2)
	assert.Contains(t, mock.logs[0], "session=sess_1")
	assert.Contains(t, mock.logs[0], "established")
	assert.Contains(t, mock.logs[1], "[WARN]")
}

func TestLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	logger := NewLogrusLogger(l)

	logger.Debug("debug message")
	assert.Contains(t, buf.String(), "debug message")

	buf.Reset()
	logger.WithFields(map[string]interface{}{"k1": "v1", "k2": "v2"}).Info("with fields")
	assert.Contains(t, buf.String(), "k1=v1")
	assert.Contains(t, buf.String(), "k2=v2")
}

func TestDefaultLogger(t *testing.T) {
	original := Default()
	require.NotNil(t, original)
	defer SetDefault(original)

	nop := NewNopLogger()
	SetDefault(nop)
	assert.Equal(t, nop, Default())

	// 全局函数不应 panic
	Debugf("test %s", "arg")
	Infof("test %s", "arg")
	assert.NotNil(t, Component("anchor"))
}

func TestConfigure_WritesJSONToFile(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	path := filepath.Join(t.TempDir(), "anchor.log")
	logger, err := Configure(schema.LogConfig{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)

	logger.WithField("key_status", "open").Debug("key generated")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"key generated"`)
	assert.Contains(t, string(data), `"key_status":"open"`)
}

func TestConfigure_UnknownLevelFallsBackToInfo(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	path := filepath.Join(t.TempDir(), "anchor.log")
	logger, err := Configure(schema.LogConfig{Level: "chatty", File: path})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("visible")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}
