package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAndKindOf(t *testing.T) {
	sentinel := errors.New("bundle is uninstalled")
	classifiedErr := Classify(sentinel, StateError)

	assert.True(t, errors.Is(classifiedErr, sentinel), "classified error must still match the original sentinel")
	assert.Equal(t, StateError, KindOf(classifiedErr))
	assert.Equal(t, sentinel.Error(), classifiedErr.Error())
}

func TestKindOf_WrappedWithFmtErrorf(t *testing.T) {
	sentinel := errors.New("resolve failed")
	classifiedErr := Classify(sentinel, BundleFailure)
	wrapped := fmt.Errorf("bundle 7: %w", classifiedErr)

	require.True(t, errors.Is(wrapped, sentinel))
	assert.Equal(t, BundleFailure, KindOf(wrapped))
}

func TestKindOf_UnclassifiedReturnsUnknown(t *testing.T) {
	plain := errors.New("plain error")
	assert.Equal(t, KindUnknown, KindOf(plain))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestSurfaced(t *testing.T) {
	assert.True(t, Surfaced(BundleFailure))
	assert.True(t, Surfaced(StateError))
	assert.True(t, Surfaced(ArgumentError))
	assert.True(t, Surfaced(SecurityError))
	assert.False(t, Surfaced(InternalError))
	assert.False(t, Surfaced(KindUnknown))
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		BundleFailure: "BundleFailure",
		StateError:    "StateError",
		ArgumentError: "ArgumentError",
		SecurityError: "SecurityError",
		InternalError: "InternalError",
		KindUnknown:   "Unknown",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}
