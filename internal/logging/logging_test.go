package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		Name     string
		Input    string
		Expected zapcore.Level
		Err      bool
	}{
		{"Empty defaults to info", "", zapcore.InfoLevel, false},
		{"Debug", "debug", zapcore.DebugLevel, false},
		{"Mixed case and spaces", "  WARN ", zapcore.WarnLevel, false},
		{"Error", "error", zapcore.ErrorLevel, false},
		{"Unknown", "verbose", zapcore.InfoLevel, true},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			level, err := ParseLevel(aTestCase.Input)
			if aTestCase.Err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, aTestCase.Expected, level)
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	logger, err := New("debug", false)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New("error", true)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = New("loud", false)
	assert.Error(t, err)
}
