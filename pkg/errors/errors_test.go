package errors

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrnoMapping(t *testing.T) {
	tests := []struct {
		kind  Kind
		errno syscall.Errno
	}{
		{KindNotFound, syscall.ENOENT},
		{KindAlreadyExists, syscall.EEXIST},
		{KindPermissionDenied, syscall.EACCES},
		{KindAccessDenied, syscall.EACCES},
		{KindNotSupported, syscall.ENOSYS},
		{KindIsDirectory, syscall.EISDIR},
		{KindNotDirectory, syscall.ENOTDIR},
		{KindInvalidArgument, syscall.EINVAL},
		{KindNotEmpty, syscall.ENOTEMPTY},
		{KindNoSpace, syscall.ENOSPC},
		{KindReadOnly, syscall.EROFS},
		{KindUnavailable, syscall.EAGAIN},
		{KindOther, syscall.EIO},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.errno, ErrnoForKind(tt.kind))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("/a")))
	assert.Equal(t, KindOther, KindOf(fmt.Errorf("plain")))

	// Kind survives wrapping.
	wrapped := fmt.Errorf("op failed: %w", ReadOnly("/x"))
	assert.Equal(t, KindReadOnly, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindReadOnly))
}

func TestIsMatchesByKind(t *testing.T) {
	err := NotFound("/a/b")
	target := New(KindNotFound, "anything")
	assert.ErrorIs(t, err, target)
}

func TestRetryableOnlyUnavailable(t *testing.T) {
	assert.True(t, IsRetryable(Unavailable("db busy", nil)))
	assert.False(t, IsRetryable(NotFound("/p")))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestWithPath(t *testing.T) {
	base := New(KindReadOnly, "read-only file system")
	err := base.WithPath("/mnt/data")
	assert.Equal(t, "/mnt/data", err.Path)
	assert.Empty(t, base.Path)
	assert.Contains(t, err.Error(), "/mnt/data")
}
