package negotiate

import (
	"log/slog"

	"github.com/google/uuid"
)

// securityLayerNone is the SASL security-layer selection byte for "no
// security layer", the only layer this package negotiates. The three reserved
// header bytes stay zero.
const securityLayerNone = 0x01

// ClientConfig configures an initiating context.
type ClientConfig struct {
	// Mechanism is the provider security package name. Empty means
	// MechanismNegotiate.
	Mechanism string

	// TargetName is the SPN of the peer service, e.g. "HTTP/server.domain.com".
	TargetName string

	// Flags requests context attributes such as mutual authentication or
	// confidentiality.
	Flags ContextFlag

	// Identity selects explicit credentials. Nil uses the provider's default
	// logged-on identity.
	Identity *Identity

	// ChannelBinding is an optional channel-binding blob handed to the
	// provider on every step. See NewTLSChannelBinding.
	ChannelBinding []byte

	// Logger receives debug records. Nil disables logging.
	Logger *slog.Logger
}

// ClientContext drives the initiating side of one negotiation attempt and,
// once established, wraps and unwraps application messages.
//
// A ClientContext is not safe for concurrent use; the caller serializes
// operations on it. It must be closed when no longer needed.
type ClientContext struct {
	provider SecurityProvider
	mech     string
	target   string
	flags    ContextFlag
	identity *Identity
	binding  []byte
	log      *slog.Logger

	cred      Credential
	sc        SecContext
	level     ProtectionLevel
	lastToken string
	principal string
	complete  bool
	closed    bool
}

// NewClientContext creates an initiating context. Init must be called before
// the first Step.
func NewClientContext(provider SecurityProvider, cfg ClientConfig) *ClientContext {
	mech := cfg.Mechanism
	if mech == "" {
		mech = MechanismNegotiate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ClientContext{
		provider: provider,
		mech:     mech,
		target:   cfg.TargetName,
		flags:    cfg.Flags,
		identity: cfg.Identity,
		binding:  cfg.ChannelBinding,
		log:      logger.With("exchange", uuid.NewString(), "target", cfg.TargetName),
	}
}

// Init acquires the outbound credential. On success the context is ready for
// Step and the result is StatusContinue; on failure no resources remain
// allocated.
func (c *ClientContext) Init() (Status, error) {
	if c.closed {
		return 0, &ProtocolError{Reason: "client context has been closed"}
	}
	if c.cred != nil {
		return 0, &ProtocolError{Reason: "client context is already initialized"}
	}
	cred, err := c.provider.AcquireOutboundCredential(c.mech, c.identity)
	if err != nil {
		return 0, providerError("AcquireOutboundCredential", err)
	}
	c.cred = cred
	c.log.Debug("outbound credential acquired", "mechanism", c.mech, "explicitIdentity", c.identity != nil)
	return StatusContinue, nil
}

// Step runs one leg of the handshake. challenge is the peer's latest token in
// transport form; it is ignored on the first call, which never has one. On
// StatusContinue the token to send is in Response. On StatusComplete the
// context is established and Principal names the authenticated local
// identity.
func (c *ClientContext) Step(challenge string) (Status, error) {
	c.lastToken = ""
	if c.closed || c.cred == nil {
		return 0, &ProtocolError{Reason: "client context is not initialized: call Init before Step"}
	}

	// The first call never carries a challenge; decode only once a security
	// context exists, and fail before the provider sees anything.
	var input []byte
	if c.sc != nil {
		raw, err := DecodeToken(challenge)
		if err != nil {
			return 0, err
		}
		input = raw
	}

	st, err := c.provider.InitiateContext(c.cred, c.sc, c.target, c.flags, input, c.binding)
	if err != nil {
		return 0, providerError("InitiateContext", err)
	}
	c.adoptContext(st.Context)

	if len(st.Token) > 0 {
		c.lastToken = EncodeToken(st.Token)
	}

	if st.Status == StatusContinue {
		c.log.Debug("handshake continues", "outTokenLen", len(st.Token))
		return StatusContinue, nil
	}

	// The contract guarantees an identity on success; not being able to read
	// it back is a terminal failure.
	name, err := c.provider.QueryName(c.sc, NameSelf)
	if err != nil {
		return 0, providerError("QueryName", err)
	}
	c.principal = name
	c.complete = true
	c.log.Debug("security context established", "principal", name)
	return StatusComplete, nil
}

// adoptContext takes ownership of the handle a step returned, releasing the
// previous one if the provider replaced it rather than updating in place.
func (c *ClientContext) adoptContext(sc SecContext) {
	if sc == nil || sc == c.sc {
		return
	}
	if c.sc != nil {
		c.provider.ReleaseContext(c.sc)
	}
	c.sc = sc
}

// Wrap protects a message over the established context and leaves it in
// Response.
//
// With a non-empty user, Wrap builds the SASL authorization message: a
// 4-byte security-layer header (no security layer) followed by the raw bytes
// of user; data is not consulted. With an empty user, data is decoded and
// rewrapped as-is. protect selects confidentiality over integrity-only.
func (c *ClientContext) Wrap(data, user string, protect bool) (Status, error) {
	c.lastToken = ""
	if c.closed || c.sc == nil {
		return 0, &ProtocolError{Reason: "uninitialized security context: complete the handshake with Step before wrapping messages"}
	}

	sizes, err := c.provider.QuerySizes(c.sc)
	if err != nil {
		return 0, providerError("QuerySizes", err)
	}

	var plaintext []byte
	if user != "" {
		buf := make([]byte, 0, sizes.SecurityTrailer+4+len(user)+sizes.BlockSize)
		plaintext = append(buf, securityLayerNone, 0, 0, 0)
		plaintext = append(plaintext, user...)
	} else {
		plaintext, err = DecodeToken(data)
		if err != nil {
			return 0, err
		}
	}

	pm, err := c.provider.Protect(c.sc, plaintext, protect)
	if err != nil {
		return 0, providerError("Protect", err)
	}

	out := make([]byte, 0, len(pm.Trailer)+len(pm.Data)+len(pm.Padding))
	out = append(out, pm.Trailer...)
	out = append(out, pm.Data...)
	out = append(out, pm.Padding...)
	c.lastToken = EncodeToken(out)
	c.log.Debug("message wrapped", "confidentiality", protect, "wrappedLen", len(out))
	return StatusComplete, nil
}

// Unwrap verifies and decrypts a wrapped message over the established
// context. The recovered plaintext is re-encoded into Response and the
// peer's protection level is recorded, replacing any previously recorded
// level.
func (c *ClientContext) Unwrap(wrapped string) (Status, error) {
	c.lastToken = ""
	c.level = ProtectionNone
	if c.closed || c.sc == nil {
		return 0, &ProtocolError{Reason: "uninitialized security context: complete the handshake with Step before unwrapping messages"}
	}

	raw, err := DecodeToken(wrapped)
	if err != nil {
		return 0, err
	}

	plaintext, level, err := c.provider.Unprotect(c.sc, raw)
	if err != nil {
		return 0, providerError("Unprotect", err)
	}
	c.level = level
	if len(plaintext) > 0 {
		c.lastToken = EncodeToken(plaintext)
	}
	c.log.Debug("message unwrapped", "level", level.String(), "plaintextLen", len(plaintext))
	return StatusComplete, nil
}

// Response returns the pending outbound token in transport form, or "" when
// the last operation produced none.
func (c *ClientContext) Response() string { return c.lastToken }

// Principal returns the authenticated local identity once Complete is true.
func (c *ClientContext) Principal() string { return c.principal }

// Complete reports whether the handshake reached terminal success.
func (c *ClientContext) Complete() bool { return c.complete }

// ProtectionLevel returns the protection level recorded by the most recent
// Unwrap.
func (c *ClientContext) ProtectionLevel() ProtectionLevel { return c.level }

// Close releases the credential and security context. It is idempotent and
// safe at any point of a negotiation.
func (c *ClientContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.sc != nil {
		c.provider.ReleaseContext(c.sc)
		c.sc = nil
	}
	if c.cred != nil {
		c.provider.ReleaseCredential(c.cred)
		c.cred = nil
	}
	c.lastToken = ""
	c.principal = ""
	c.log.Debug("client context released")
	return nil
}
