package cache

import "errors"

var (
	// ErrStorageFull marks a persistent write that was rejected even
	// after one prune-and-retry. It is logged and counted, never
	// returned from Set.
	ErrStorageFull = errors.New("cache: persistent storage full")
	// ErrBackendUnavailable marks a transactional tier that could not
	// initialize. It triggers a permanent downgrade to the persistent
	// tier and is logged once.
	ErrBackendUnavailable = errors.New("cache: backend unavailable")
	// ErrCorruptEntry marks a stored entry whose checksum or encoding
	// did not verify on read. The entry is deleted and the read is a
	// miss; the error is only used internally and in logs.
	ErrCorruptEntry = errors.New("cache: corrupt entry")
	// ErrClosed is returned by operations on a closed Service.
	ErrClosed = errors.New("cache: service is closed")
)
