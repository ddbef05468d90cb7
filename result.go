package negotiate

// Status is the non-error outcome of a negotiation operation.
type Status int

const (
	// StatusContinue means the operation succeeded but the handshake needs
	// another round trip; Response holds the token to send, if any.
	StatusContinue Status = iota

	// StatusComplete means the operation reached its terminal success state.
	// For Step this is an established security context with an authenticated
	// principal; for Wrap and Unwrap it is the protected or recovered message
	// in Response.
	StatusComplete
)

// String returns the GSSAPI-style name of the status.
func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "CONTINUE"
	case StatusComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// ProtectionLevel is the quality of protection negotiated for a wrapped
// message.
type ProtectionLevel int

const (
	// ProtectionNone means no message protection has been negotiated.
	ProtectionNone ProtectionLevel = iota

	// ProtectionIntegrity means messages are signed but not encrypted.
	ProtectionIntegrity

	// ProtectionConfidentiality means messages are encrypted and signed.
	ProtectionConfidentiality
)

// String returns a short name for the protection level.
func (p ProtectionLevel) String() string {
	switch p {
	case ProtectionNone:
		return "none"
	case ProtectionIntegrity:
		return "integrity"
	case ProtectionConfidentiality:
		return "confidentiality"
	default:
		return "unknown"
	}
}
