// Package errors provides the structured error system for Tarbox. Every error
// surfaced by the filesystem facade carries a Kind drawn from a closed taxonomy
// that frontends map to their native convention (errno for FUSE and WASI, gRPC
// status for CSI).
package errors

import (
	stderrors "errors"
	"fmt"
	"syscall"
)

// Kind classifies a filesystem error.
type Kind string

const (
	// KindNotFound indicates a path, inode, layer, or publication does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindAlreadyExists indicates creating a name that would violate a
	// uniqueness invariant.
	KindAlreadyExists Kind = "ALREADY_EXISTS"
	// KindPermissionDenied indicates the mode forbids the operation.
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	// KindNotSupported indicates the operation exists in the interface but the
	// core does not implement it (symlink targets, hard links, xattrs).
	KindNotSupported Kind = "NOT_SUPPORTED"
	// KindIsDirectory indicates a file operation hit a directory.
	KindIsDirectory Kind = "IS_DIRECTORY"
	// KindNotDirectory indicates a directory operation hit a file.
	KindNotDirectory Kind = "NOT_DIRECTORY"
	// KindInvalidArgument indicates a malformed path, malformed hook payload,
	// mount-set conflict, or a missing confirm flag.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindNotEmpty indicates removal of a non-empty directory.
	KindNotEmpty Kind = "NOT_EMPTY"
	// KindNoSpace indicates quota or storage exhaustion.
	KindNoSpace Kind = "NO_SPACE"
	// KindReadOnly indicates a write against a read-only source or layer.
	KindReadOnly Kind = "READ_ONLY"
	// KindAccessDenied indicates a publication scope excludes the caller.
	KindAccessDenied Kind = "ACCESS_DENIED"
	// KindUnavailable indicates a transient store failure or an elapsed
	// deadline; the facade retries these with bounded attempts.
	KindUnavailable Kind = "UNAVAILABLE"
	// KindOther is the unclassified remainder; implementers should minimize it.
	KindOther Kind = "OTHER"
)

// FsError is the error type every component above the repository layer speaks.
type FsError struct {
	Kind    Kind
	Message string
	Path    string
	Cause   error
}

// Error implements the error interface.
func (e *FsError) Error() string {
	switch {
	case e.Path != "" && e.Cause != nil:
		return fmt.Sprintf("%s %s: %s: %v", e.Kind, e.Path, e.Message, e.Cause)
	case e.Path != "":
		return fmt.Sprintf("%s %s: %s", e.Kind, e.Path, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *FsError) Unwrap() error {
	return e.Cause
}

// Is matches two FsErrors by kind so callers can compare against sentinels.
func (e *FsError) Is(target error) bool {
	if t, ok := target.(*FsError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithPath returns a copy of the error annotated with a path.
func (e *FsError) WithPath(path string) *FsError {
	clone := *e
	clone.Path = path
	return &clone
}

// Errno maps the error kind to the closest POSIX errno.
func (e *FsError) Errno() syscall.Errno {
	return ErrnoForKind(e.Kind)
}

// ErrnoForKind maps a kind to the closest POSIX errno.
func ErrnoForKind(k Kind) syscall.Errno {
	switch k {
	case KindNotFound:
		return syscall.ENOENT
	case KindAlreadyExists:
		return syscall.EEXIST
	case KindPermissionDenied, KindAccessDenied:
		return syscall.EACCES
	case KindNotSupported:
		return syscall.ENOSYS
	case KindIsDirectory:
		return syscall.EISDIR
	case KindNotDirectory:
		return syscall.ENOTDIR
	case KindInvalidArgument:
		return syscall.EINVAL
	case KindNotEmpty:
		return syscall.ENOTEMPTY
	case KindNoSpace:
		return syscall.ENOSPC
	case KindReadOnly:
		return syscall.EROFS
	case KindUnavailable:
		return syscall.EAGAIN
	default:
		return syscall.EIO
	}
}

// New creates an FsError with an explicit kind.
func New(kind Kind, message string) *FsError {
	return &FsError{Kind: kind, Message: message}
}

// Newf creates an FsError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *FsError {
	return &FsError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, message string, cause error) *FsError {
	return &FsError{Kind: kind, Message: message, Cause: cause}
}

// NotFound reports that the named path or entity does not exist.
func NotFound(path string) *FsError {
	return &FsError{Kind: KindNotFound, Message: "no such file or directory", Path: path}
}

// AlreadyExists reports a uniqueness violation on the named path.
func AlreadyExists(path string) *FsError {
	return &FsError{Kind: KindAlreadyExists, Message: "already exists", Path: path}
}

// PermissionDenied reports a forbidden operation on the named path.
func PermissionDenied(path string) *FsError {
	return &FsError{Kind: KindPermissionDenied, Message: "permission denied", Path: path}
}

// NotSupported reports an unimplemented interface operation.
func NotSupported(op string) *FsError {
	return &FsError{Kind: KindNotSupported, Message: op + " is not supported"}
}

// IsDirectory reports a file operation against a directory.
func IsDirectory(path string) *FsError {
	return &FsError{Kind: KindIsDirectory, Message: "is a directory", Path: path}
}

// NotDirectory reports a directory operation against a file.
func NotDirectory(path string) *FsError {
	return &FsError{Kind: KindNotDirectory, Message: "not a directory", Path: path}
}

// InvalidArgument reports a malformed request.
func InvalidArgument(message string) *FsError {
	return &FsError{Kind: KindInvalidArgument, Message: message}
}

// NotEmpty reports removal of a non-empty directory.
func NotEmpty(path string) *FsError {
	return &FsError{Kind: KindNotEmpty, Message: "directory not empty", Path: path}
}

// ReadOnly reports a write against a read-only source.
func ReadOnly(path string) *FsError {
	return &FsError{Kind: KindReadOnly, Message: "read-only file system", Path: path}
}

// AccessDenied reports a publication scope exclusion.
func AccessDenied(message string) *FsError {
	return &FsError{Kind: KindAccessDenied, Message: message}
}

// Unavailable reports a transient failure worth retrying.
func Unavailable(message string, cause error) *FsError {
	return &FsError{Kind: KindUnavailable, Message: message, Cause: cause}
}

// NoSpace reports storage exhaustion from the store.
func NoSpace(cause error) *FsError {
	return &FsError{Kind: KindNoSpace, Message: "no space left on device", Cause: cause}
}

// KindOf extracts the kind from any error. Non-FsError values classify as
// KindOther.
func KindOf(err error) Kind {
	var fe *FsError
	if stderrors.As(err, &fe) {
		return fe.Kind
	}
	return KindOther
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the facade should retry the operation.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUnavailable
}
