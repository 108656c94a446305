package logger

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"INFO":  zapcore.InfoLevel,
		"error": zapcore.ErrorLevel,
		"2":     zapcore.Level(-2),
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
	_, err = ParseLevel("-1")
	require.Error(t, err)
}

func TestLevelFlag(t *testing.T) {
	log := New("test")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	log.AddLevelFlag(fs)

	require.NoError(t, fs.Parse([]string{"-v", "debug"}))
	require.Equal(t, zapcore.DebugLevel, log.atomicLevel.Level())
	require.True(t, log.V(1).Enabled())

	require.Error(t, fs.Parse([]string{"--verbosity", "chatty"}))
}
