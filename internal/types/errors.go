package types

import "errors"

// Classified failures crossing component boundaries. Callers branch with
// errors.Is rather than inspecting messages.
var (
	// ErrNotFound: unknown document id. Recovered locally, mapped to absent.
	ErrNotFound = errors.New("document not found")

	// ErrStorageUnavailable: the store is unreachable. Fatal for the call.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrRateLimited: the generation endpoint throttled us. Eligible for
	// backoff-and-retry on the same model.
	ErrRateLimited = errors.New("rate limited")

	// ErrGeneration: any other generation failure, including malformed
	// structured output. Advances the model fallback chain immediately.
	ErrGeneration = errors.New("generation failed")

	// ErrModelsExhausted: every model in the fallback chain failed. Mapped
	// to a graceful degraded response at the driver boundary.
	ErrModelsExhausted = errors.New("all models exhausted")
)
