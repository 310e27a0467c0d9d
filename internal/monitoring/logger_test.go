package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func restoreLogger(t *testing.T) {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })
}

func TestComponentPrefixesTag(t *testing.T) {
	restoreLogger(t)

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	logf := Component("Store")
	logf("stream=%s frame_idx=%d stored", "s1", 7)

	require.Equal(t, []string{"[Store] stream=s1 frame_idx=7 stored"}, lines)
}

// Component loggers are built once at package init; SetLogger must
// still redirect them afterwards.
func TestSetLoggerRedirectsExistingComponentLoggers(t *testing.T) {
	restoreLogger(t)

	logf := Component("Supervisor")

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	logf("decision cycle complete")

	require.Equal(t, []string{"[Supervisor] decision cycle complete"}, lines)
}

func TestSetLoggerNilMutesOutput(t *testing.T) {
	restoreLogger(t)

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)

	Logf("dropped")
	Component("Push")("also dropped")
	require.False(t, called)
}
