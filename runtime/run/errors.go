package run

import "fmt"

type (
	// ProviderError reports an upstream model failure. Fatal to the run and
	// surfaced as a response_error event with the Retryable advisory flag.
	ProviderError struct {
		// Message is a user-safe failure description.
		Message string
		// Retryable advises whether retrying may succeed without changes.
		Retryable bool
	}

	// PersistenceError reports a store write failure after a successful run.
	// Surfaced as a response_error even though generation succeeded, since
	// the caller needs to know the turn was not saved.
	PersistenceError struct {
		Err error
	}
)

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider: %s", e.Message)
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist run: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
