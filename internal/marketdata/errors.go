package marketdata

import "errors"

var (
	// ErrRateLimited is returned on HTTP 429. Always retryable at the
	// queue level; the message is re-armed with backoff instead of being
	// processed partially.
	ErrRateLimited = errors.New("market data: rate limited")

	// ErrMalformed is returned when the response is missing or carries
	// invalid required fields. Retryable: the external source is known to
	// self-correct.
	ErrMalformed = errors.New("market data: malformed response")
)
