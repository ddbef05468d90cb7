package negotiate

// Credential is an opaque provider credential handle. It is owned exclusively
// by the context that acquired it and must only be released through the
// provider that issued it.
type Credential interface{}

// SecContext is an opaque provider security-context handle with the same
// ownership rules as Credential.
type SecContext interface{}

// Identity is an explicit set of credentials for initiating authentication.
// A nil *Identity means the provider's default (logged-on) identity; the
// state machines never hand empty fields to a provider as if they were
// explicit credentials.
type Identity struct {
	User     string
	Domain   string
	Password string
}

// ContextFlag requests attributes of the security context to be established.
// Providers map these onto their native flag space.
type ContextFlag uint32

const (
	// FlagDelegation requests credential delegation to the peer.
	FlagDelegation ContextFlag = 1 << iota
	// FlagMutual requests mutual authentication.
	FlagMutual
	// FlagReplayDetect requests replay detection on protected messages.
	FlagReplayDetect
	// FlagSequenceDetect requests out-of-sequence detection.
	FlagSequenceDetect
	// FlagConfidentiality requests message encryption support.
	FlagConfidentiality
	// FlagIntegrity requests message signing support.
	FlagIntegrity
)

// NameMode selects which party's name QueryName reports.
type NameMode int

const (
	// NamePeer is the authenticated name of the remote party.
	NamePeer NameMode = iota
	// NameSelf is the authenticated name of the local party.
	NameSelf
)

// StepToken is the outcome of one provider context-establishment call.
type StepToken struct {
	// Status is StatusComplete when the context is established,
	// StatusContinue when another leg is needed.
	Status Status

	// Token is the raw output token to transmit, if any. Present for either
	// status.
	Token []byte

	// Context is the security-context handle. Providers that update a
	// context in place return the handle they were given.
	Context SecContext
}

// Sizes describes the buffer requirements for protecting one message.
type Sizes struct {
	// SecurityTrailer is the size of the signature/header segment.
	SecurityTrailer int

	// BlockSize is the cipher block size; padding never exceeds it.
	BlockSize int
}

// ProtectedMessage is a wrapped message in its three wire segments. They are
// transmitted concatenated in this order. Segments a mechanism does not use
// are nil.
type ProtectedMessage struct {
	Trailer []byte
	Data    []byte
	Padding []byte
}

// SecurityProvider is the capability surface of the platform security
// mechanism the negotiation engine drives. Implementations exist for Windows
// SSPI (provider/sspi), pure Go Kerberos (provider/krb5) and raw NTLM
// (provider/ntlm).
//
// Every call is synchronous and may block on local system services. The
// engine never interprets provider-internal status codes; failures are
// ordinary Go errors carrying a rendered message.
//
// Implementations are NOT required to be safe for concurrent use of a single
// credential or context handle; the engine serializes per context.
type SecurityProvider interface {
	// AcquireOutboundCredential obtains a credential for initiating
	// authentication under the named mechanism ("Negotiate", "Kerberos",
	// "NTLM"). A nil identity selects the ambient logged-on identity.
	AcquireOutboundCredential(mechanism string, identity *Identity) (Credential, error)

	// AcquireInboundCredential obtains a credential for accepting
	// authentication under the named mechanism.
	AcquireInboundCredential(mechanism string) (Credential, error)

	// InitiateContext runs one leg of the initiator handshake. sc is nil on
	// the first call. channelBinding is an optional provider-defined
	// channel-binding blob handed through unchanged on every leg.
	InitiateContext(cred Credential, sc SecContext, targetName string, flags ContextFlag, inputToken, channelBinding []byte) (*StepToken, error)

	// AcceptContext runs one leg of the acceptor handshake. sc is nil on the
	// first call. maxTokenSize bounds the output token buffer.
	AcceptContext(cred Credential, sc SecContext, inputToken []byte, maxTokenSize int) (*StepToken, error)

	// QueryName reports the authenticated name of the requested party on an
	// established context. ErrNameUnavailable means the provider has no name
	// for that mode, not that the operation failed.
	QueryName(sc SecContext, mode NameMode) (string, error)

	// ImpersonateLocalName impersonates the established context, reads the
	// local account name the OS reports, and reverts. Server-side fallback
	// when QueryName cannot produce the peer name.
	ImpersonateLocalName(sc SecContext) (string, error)

	// MaxTokenSize reports the largest token the mechanism can emit.
	MaxTokenSize(mechanism string) (int, error)

	// QuerySizes reports the message-protection buffer requirements of an
	// established context.
	QuerySizes(sc SecContext) (Sizes, error)

	// Protect wraps plaintext for transmission. confidentiality selects
	// encryption; false requests integrity only.
	Protect(sc SecContext, plaintext []byte, confidentiality bool) (*ProtectedMessage, error)

	// Unprotect verifies and decrypts a wrapped message, reporting the
	// protection level the peer actually applied.
	Unprotect(sc SecContext, wrapped []byte) ([]byte, ProtectionLevel, error)

	// ReleaseContext frees a security-context handle. Idempotent; a nil or
	// already-released handle is a no-op.
	ReleaseContext(sc SecContext)

	// ReleaseCredential frees a credential handle. Idempotent like
	// ReleaseContext.
	ReleaseCredential(cred Credential)
}

// MechanismNegotiate is the default security package: SPNEGO mechanism
// negotiation, preferring Kerberos with NTLM fallback where the provider
// supports it.
const MechanismNegotiate = "Negotiate"
