package failureclassifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternFilter_RequiresTypeMessageAndStack(t *testing.T) {
	filter := NewDefaultPatternFilter()

	assert.True(t, filter.IsKnownBenignFailure(benignFailure()))

	wrongType := benignFailure()
	wrongType.Type = "runtime.boundsError"
	assert.False(t, filter.IsKnownBenignFailure(wrongType))

	wrongMessage := benignFailure()
	wrongMessage.Message = "stroke collection was modified"
	assert.False(t, filter.IsKnownBenignFailure(wrongMessage))

	wrongStack := benignFailure()
	wrongStack.Stack = "goroutine 1 [running]:\nmain.main()\n"
	assert.False(t, filter.IsKnownBenignFailure(wrongStack))
}

func TestPatternFilter_AnyStackFrameMatches(t *testing.T) {
	filter := NewDefaultPatternFilter()

	failure := benignFailure()
	failure.Stack = "example.com/canvas/ink.(*StrokeCollection).Add(...)"
	assert.True(t, filter.IsKnownBenignFailure(failure))
}

func TestPatternFilter_SubstringMatchIsPreserved(t *testing.T) {
	// Matching is plain substring: a longer type name containing the
	// pattern's type still matches
	filter := NewDefaultPatternFilter()

	failure := benignFailure()
	failure.Type = "*ink.WrappedCrossThreadAccessErrorV2"
	assert.True(t, filter.IsKnownBenignFailure(failure))
}

func TestNewPatternFilter_RejectsMatchAllPattern(t *testing.T) {
	_, err := NewPatternFilter([]BenignPattern{{Name: "everything"}})
	assert.Error(t, err)
}

func TestLoadPatternFilterFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	content := `benign_patterns:
  - name: tablet-disconnect
    type: DeviceError
    message: tablet removed
    stack_frames:
      - stylus.(*Reader)
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	filter, err := LoadPatternFilterFromFile(path)
	require.NoError(t, err)
	require.Len(t, filter.Patterns(), 1)

	assert.True(t, filter.IsKnownBenignFailure(Failure{
		Type:    "*stylus.DeviceError",
		Message: "tablet removed while drawing",
		Stack:   "stylus.(*Reader).Poll()",
	}))
	assert.False(t, filter.IsKnownBenignFailure(benignFailure()))
}

func TestLoadPatternFilterFromFile_Missing(t *testing.T) {
	_, err := LoadPatternFilterFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFromPanic(t *testing.T) {
	failure := FromPanic(SurfaceBackground, "plain message", []byte("stack"))
	assert.Equal(t, "string", failure.Type)
	assert.Equal(t, "plain message", failure.Message)
	assert.Equal(t, "stack", failure.Stack)

	failure = FromPanic(SurfaceBackground, 42, nil)
	assert.Equal(t, "int", failure.Type)
	assert.Equal(t, "42", failure.Message)
}
