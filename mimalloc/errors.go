package mimalloc

import (
	"errors"

	"github.com/the-die/mimalloc/internal/mlog"
)

// Sentinel errors surfaced through ErrorCallback (spec.md §7), mirroring
// the teacher's errors.go convention of package-level errors.New values
// rather than custom error types.
var (
	ErrOutOfMemory    = errors.New("mimalloc: out of memory")
	ErrInvalidPointer = errors.New("mimalloc: invalid pointer")
	ErrDoubleFree     = errors.New("mimalloc: double free")
	ErrMisaligned     = errors.New("mimalloc: misaligned allocation request")
	ErrPurgeFailed    = errors.New("mimalloc: purge failed")
)

// ErrorKind classifies the condition passed to an ErrorCallback, letting
// an embedding application distinguish "retry" conditions from ones that
// indicate a caller bug.
type ErrorKind int

const (
	ErrorOutOfMemory ErrorKind = iota
	ErrorInvalidPointer
	ErrorDoubleFree
	ErrorMisaligned
	ErrorPurgeFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorOutOfMemory:
		return "out-of-memory"
	case ErrorInvalidPointer:
		return "invalid-pointer"
	case ErrorDoubleFree:
		return "double-free"
	case ErrorMisaligned:
		return "misaligned"
	case ErrorPurgeFailed:
		return "purge-failed"
	}
	return "unknown"
}

// ErrorCallback is invoked instead of aborting whenever the allocator
// observes one of the disposition conditions in spec.md §7. The default
// callback logs at Error level through internal/mlog; applications can
// install their own via SetErrorCallback to, say, increment a metric or
// panic in a test harness.
type ErrorCallback func(kind ErrorKind, err error)

var errorCallback ErrorCallback = defaultErrorCallback

// SetErrorCallback installs cb as the process-wide error disposition
// hook. Passing nil restores the default (log-and-continue) behavior.
func SetErrorCallback(cb ErrorCallback) {
	if cb == nil {
		errorCallback = defaultErrorCallback
		return
	}
	errorCallback = cb
}

func reportError(kind ErrorKind, err error) {
	errorCallback(kind, err)
}

func defaultErrorCallback(kind ErrorKind, err error) {
	mlog.Get().Errorf("%s: %v", kind, err)
}
