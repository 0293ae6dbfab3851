package testdata

import "sync"

// MaxRetries bounds how many times a request is retried.
const MaxRetries = 3

const (
	StatusPending = "pending"
	statusDone    = "done"
)

var DefaultTimeoutSeconds int = 30

var (
	globalMu    sync.Mutex
	RegisteredHandlers []string
)

func doRetry() {
	// local variables are not package-level and must not be indexed
	attempts := 0
	_ = attempts
}
