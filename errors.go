package negotiate

import (
	"errors"
	"fmt"
)

// ErrNameUnavailable is returned by SecurityProvider.QueryName when the
// provider cannot produce a name for the requested mode. The server state
// machine treats it as the signal to fall back to impersonation.
var ErrNameUnavailable = errors.New("authenticated name unavailable")

// DecodeError reports malformed transport-encoded token text. It is always
// detected before any provider call and never wraps a provider status.
type DecodeError struct {
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("negotiate: decode token: %v", e.Err)
}

// Unwrap returns the underlying base64 error.
func (e *DecodeError) Unwrap() error { return e.Err }

// ProviderError reports a failure from the security provider for a specific
// operation. The context may be unusable afterwards and should be closed.
type ProviderError struct {
	// Op is the facade operation that failed, e.g. "InitiateContext".
	Op string

	// Err is the provider's error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("negotiate: %s: %v", e.Op, e.Err)
}

// Unwrap returns the provider's error.
func (e *ProviderError) Unwrap() error { return e.Err }

// ProtocolError reports a caller precondition violation: stepping before
// Init, wrapping without an established context, or a server step with a
// missing challenge. It is always detected before touching the provider.
type ProtocolError struct {
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return "negotiate: " + e.Reason
}

// AllocationError reports that a required buffer or size could not be
// obtained. It propagates exactly like ProviderError.
type AllocationError struct {
	// What names the buffer or size that could not be obtained.
	What string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *AllocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("negotiate: unable to obtain %s: %v", e.What, e.Err)
	}
	return fmt.Sprintf("negotiate: unable to obtain %s", e.What)
}

// Unwrap returns the underlying error.
func (e *AllocationError) Unwrap() error { return e.Err }

func providerError(op string, err error) *ProviderError {
	return &ProviderError{Op: op, Err: err}
}
