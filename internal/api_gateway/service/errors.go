package service

import "errors"

// ErrAsyncUnavailable is returned by Enqueue when no intake producer is configured
var ErrAsyncUnavailable = errors.New("asynchronous ingestion is not configured")
