package negotiate

import (
	"log/slog"

	"github.com/google/uuid"
)

// ServerConfig configures an accepting context.
type ServerConfig struct {
	// Mechanism is the provider security package name. Empty means
	// MechanismNegotiate.
	Mechanism string

	// Logger receives debug records. Nil disables logging.
	Logger *slog.Logger
}

// ServerContext drives the accepting side of a negotiation. One ServerContext
// is reusable across independent client exchanges: a Step after a completed
// handshake implicitly resets the per-request state first.
//
// A ServerContext is not safe for concurrent use; the caller serializes
// operations on it. It must be closed when no longer needed.
type ServerContext struct {
	provider SecurityProvider
	mech     string
	log      *slog.Logger

	cred      Credential
	sc        SecContext
	lastToken string
	principal string
	complete  bool
	closed    bool
}

// NewServerContext creates an accepting context. Init must be called before
// the first Step.
func NewServerContext(provider SecurityProvider, cfg ServerConfig) *ServerContext {
	mech := cfg.Mechanism
	if mech == "" {
		mech = MechanismNegotiate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ServerContext{
		provider: provider,
		mech:     mech,
		log:      logger.With("exchange", uuid.NewString(), "mechanism", mech),
	}
}

// Init acquires the inbound credential, tearing down anything left from a
// prior use first. It may be called again to rearm the context from scratch.
func (s *ServerContext) Init() (Status, error) {
	if s.closed {
		return 0, &ProtocolError{Reason: "server context has been closed"}
	}
	s.teardown()
	cred, err := s.provider.AcquireInboundCredential(s.mech)
	if err != nil {
		return 0, providerError("AcquireInboundCredential", err)
	}
	s.cred = cred
	s.log.Debug("inbound credential acquired")
	return StatusContinue, nil
}

// Step runs one leg of the acceptor handshake. challenge is mandatory; an
// empty token is a protocol error and the provider is never called. On
// StatusContinue the token to send back is in Response. On StatusComplete the
// client is authenticated and Principal names it.
func (s *ServerContext) Step(challenge string) (Status, error) {
	if s.closed || s.cred == nil {
		return 0, &ProtocolError{Reason: "server context is not initialized: call Init before Step"}
	}

	// A completed context accepting a new token is a fresh request: drop the
	// old security context and principal before anything else.
	if s.complete {
		s.beginRequest()
	}
	s.lastToken = ""

	if challenge == "" {
		return 0, &ProtocolError{Reason: "no challenge token in request from client"}
	}
	raw, err := DecodeToken(challenge)
	if err != nil {
		return 0, err
	}

	maxToken, err := s.provider.MaxTokenSize(s.mech)
	if err != nil {
		return 0, &AllocationError{What: "maximum token size for output buffer", Err: err}
	}

	st, err := s.provider.AcceptContext(s.cred, s.sc, raw, maxToken)
	if err != nil {
		// The context is in a state that cannot be recovered; drop it so the
		// caller can retry with a fresh exchange.
		if s.sc != nil {
			s.provider.ReleaseContext(s.sc)
			s.sc = nil
		}
		return 0, providerError("AcceptContext", err)
	}
	s.adoptContext(st.Context)

	if st.Status == StatusContinue {
		if len(st.Token) > 0 {
			s.lastToken = EncodeToken(st.Token)
		}
		s.log.Debug("handshake continues", "outTokenLen", len(st.Token))
		return StatusContinue, nil
	}

	s.complete = true
	name, err := s.provider.QueryName(s.sc, NamePeer)
	if err != nil {
		// Impersonate the established context and read the local account
		// name the OS reports, then revert. Both paths failing is terminal.
		name, err = s.provider.ImpersonateLocalName(s.sc)
		if err != nil {
			return 0, providerError("ImpersonateLocalName", err)
		}
	}
	s.principal = name
	s.log.Debug("client authenticated", "principal", name)
	return StatusComplete, nil
}

// beginRequest resets per-exchange state so a completed context accepts a
// fresh negotiation without explicit teardown.
func (s *ServerContext) beginRequest() {
	if s.sc != nil {
		s.provider.ReleaseContext(s.sc)
		s.sc = nil
	}
	s.principal = ""
	s.complete = false
	s.log.Debug("context reset for new request")
}

func (s *ServerContext) adoptContext(sc SecContext) {
	if sc == nil || sc == s.sc {
		return
	}
	if s.sc != nil {
		s.provider.ReleaseContext(s.sc)
	}
	s.sc = sc
}

func (s *ServerContext) teardown() {
	if s.sc != nil {
		s.provider.ReleaseContext(s.sc)
		s.sc = nil
	}
	if s.cred != nil {
		s.provider.ReleaseCredential(s.cred)
		s.cred = nil
	}
	s.lastToken = ""
	s.principal = ""
	s.complete = false
}

// Response returns the pending outbound token in transport form, or "" when
// the last operation produced none.
func (s *ServerContext) Response() string { return s.lastToken }

// Principal returns the authenticated client identity once Complete is true.
func (s *ServerContext) Principal() string { return s.principal }

// Complete reports whether the current exchange reached terminal success.
func (s *ServerContext) Complete() bool { return s.complete }

// Close releases the credential and security context. It is idempotent and
// safe at any point of a negotiation.
func (s *ServerContext) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.teardown()
	s.log.Debug("server context released")
	return nil
}
