package negotiate

import (
	"bytes"
	"errors"
	"testing"
)

func TestClientInit(t *testing.T) {
	p := newStubProvider()
	c := NewClientContext(p, ClientConfig{TargetName: "HTTP/server.example.com"})
	defer c.Close()

	status, err := c.Init()
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if status != StatusContinue {
		t.Errorf("status = %v; want StatusContinue", status)
	}
	if p.count("AcquireOutboundCredential") != 1 {
		t.Errorf("AcquireOutboundCredential called %d times; want 1", p.count("AcquireOutboundCredential"))
	}
	if p.lastIdentity != nil {
		t.Errorf("provider received explicit identity %v; want nil for default identity", p.lastIdentity)
	}
}

func TestClientInit_ExplicitIdentity(t *testing.T) {
	p := newStubProvider()
	id := &Identity{User: "admin", Domain: "EXAMPLE", Password: "secret"}
	c := NewClientContext(p, ClientConfig{TargetName: "HTTP/server", Identity: id})
	defer c.Close()

	if _, err := c.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if p.lastIdentity != id {
		t.Error("provider did not receive the explicit identity")
	}
}

func TestClientInit_ProviderFailure(t *testing.T) {
	p := newStubProvider()
	p.errs["AcquireOutboundCredential"] = errors.New("no logon session")
	c := NewClientContext(p, ClientConfig{TargetName: "HTTP/server"})
	defer c.Close()

	_, err := c.Init()
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v; want *ProviderError", err)
	}
	if perr.Op != "AcquireOutboundCredential" {
		t.Errorf("Op = %q; want AcquireOutboundCredential", perr.Op)
	}
	// Failure must not leave resources behind for Close to free.
	c.Close()
	if len(p.releasedCreds) != 0 || len(p.releasedContexts) != 0 {
		t.Error("failed Init left resources to release")
	}
}

func TestClientStep_BeforeInit(t *testing.T) {
	p := newStubProvider()
	c := NewClientContext(p, ClientConfig{TargetName: "HTTP/server"})
	defer c.Close()

	_, err := c.Step("")
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v; want *ProtocolError", err)
	}
	if len(p.calls) != 0 {
		t.Errorf("provider was called before Init: %v", p.calls)
	}
}

func TestClientHandshake(t *testing.T) {
	p := newStubProvider()
	sc1 := &stubSC{id: 1}
	p.steps = []*StepToken{
		{Status: StatusContinue, Token: []byte("leg-1"), Context: sc1},
		{Status: StatusComplete, Token: []byte("leg-2"), Context: sc1},
	}
	c := NewClientContext(p, ClientConfig{TargetName: "service@host", Flags: FlagMutual})
	defer c.Close()

	if _, err := c.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	status, err := c.Step("")
	if err != nil {
		t.Fatalf("first Step failed: %v", err)
	}
	if status != StatusContinue {
		t.Errorf("first status = %v; want StatusContinue", status)
	}
	if c.Response() == "" {
		t.Error("first Step produced no response token")
	}
	if p.lastInput != nil {
		t.Errorf("first Step handed input %q to the provider; want none", p.lastInput)
	}
	if c.Complete() {
		t.Error("context complete after first leg")
	}

	serverToken := EncodeToken([]byte("server-reply"))
	status, err = c.Step(serverToken)
	if err != nil {
		t.Fatalf("second Step failed: %v", err)
	}
	if status != StatusComplete {
		t.Errorf("second status = %v; want StatusComplete", status)
	}
	if !bytes.Equal(p.lastInput, []byte("server-reply")) {
		t.Errorf("provider input = %q; want decoded server token", p.lastInput)
	}
	if !c.Complete() {
		t.Error("context not complete after final leg")
	}
	if c.Principal() != "user@EXAMPLE.COM" {
		t.Errorf("Principal = %q; want user@EXAMPLE.COM", c.Principal())
	}
	// The final leg can still carry a token (mutual auth).
	if c.Response() != EncodeToken([]byte("leg-2")) {
		t.Errorf("Response = %q; want encoded final token", c.Response())
	}
}

func TestClientStep_MalformedChallenge(t *testing.T) {
	p := newStubProvider()
	c := NewClientContext(p, ClientConfig{TargetName: "HTTP/server"})
	defer c.Close()

	if _, err := c.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := c.Step(""); err != nil {
		t.Fatalf("first Step failed: %v", err)
	}

	before := p.count("InitiateContext")
	_, err := c.Step("not-valid-encoding!!")
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v; want *DecodeError", err)
	}
	if p.count("InitiateContext") != before {
		t.Error("provider was called with an undecodable challenge")
	}
	if c.Response() != "" {
		t.Errorf("Response = %q after decode failure; want empty", c.Response())
	}
}

func TestClientStep_ChannelBinding(t *testing.T) {
	p := newStubProvider()
	cb := NewTLSChannelBinding([]byte{0xde, 0xad})
	c := NewClientContext(p, ClientConfig{TargetName: "HTTP/server", ChannelBinding: cb})
	defer c.Close()

	if _, err := c.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := c.Step(""); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if !bytes.Equal(p.lastBinding, cb) {
		t.Error("channel binding was not handed to the provider")
	}
}

func TestClientStep_QueryNameFailureIsTerminal(t *testing.T) {
	p := newStubProvider()
	p.steps = []*StepToken{{Status: StatusComplete, Context: &stubSC{}}}
	p.errs["QueryName"] = errors.New("attribute query failed")
	c := NewClientContext(p, ClientConfig{TargetName: "HTTP/server"})
	defer c.Close()

	if _, err := c.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	_, err := c.Step("")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v; want *ProviderError", err)
	}
	if perr.Op != "QueryName" {
		t.Errorf("Op = %q; want QueryName", perr.Op)
	}
	if c.Complete() {
		t.Error("context marked complete without an authenticated name")
	}
}

func TestClientStep_ReplacedContextIsReleased(t *testing.T) {
	p := newStubProvider()
	sc1 := &stubSC{id: 1}
	sc2 := &stubSC{id: 2}
	p.steps = []*StepToken{
		{Status: StatusContinue, Token: []byte("a"), Context: sc1},
		{Status: StatusContinue, Token: []byte("b"), Context: sc2},
	}
	c := NewClientContext(p, ClientConfig{TargetName: "HTTP/server"})
	defer c.Close()

	if _, err := c.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := c.Step(""); err != nil {
		t.Fatalf("first Step failed: %v", err)
	}
	if _, err := c.Step(EncodeToken([]byte("x"))); err != nil {
		t.Fatalf("second Step failed: %v", err)
	}
	if len(p.releasedContexts) != 1 || p.releasedContexts[0] != sc1 {
		t.Errorf("replaced context was not released exactly once: %v", p.releasedContexts)
	}
}

func establishedClient(t *testing.T, p *stubProvider) *ClientContext {
	t.Helper()
	p.steps = []*StepToken{{Status: StatusComplete, Context: &stubSC{}}}
	c := NewClientContext(p, ClientConfig{TargetName: "HTTP/server"})
	if _, err := c.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := c.Step(""); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	return c
}

func TestClientWrapUnwrap_RequireEstablishedContext(t *testing.T) {
	p := newStubProvider()
	c := NewClientContext(p, ClientConfig{TargetName: "HTTP/server"})
	defer c.Close()
	if _, err := c.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	var perr *ProtocolError
	if _, err := c.Wrap(EncodeToken([]byte("x")), "", true); !errors.As(err, &perr) {
		t.Errorf("Wrap error = %v; want *ProtocolError", err)
	}
	if _, err := c.Unwrap(EncodeToken([]byte("x"))); !errors.As(err, &perr) {
		t.Errorf("Unwrap error = %v; want *ProtocolError", err)
	}
	if p.count("Protect") != 0 || p.count("Unprotect") != 0 || p.count("QuerySizes") != 0 {
		t.Errorf("provider touched without an established context: %v", p.calls)
	}
}

func TestClientWrap_AuthorizationMode(t *testing.T) {
	p := newStubProvider()
	c := establishedClient(t, p)
	defer c.Close()
	handshakeToken := c.Response()

	status, err := c.Wrap("", "alice", true)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if status != StatusComplete {
		t.Errorf("status = %v; want StatusComplete", status)
	}

	want := append([]byte{0x01, 0x00, 0x00, 0x00}, []byte("alice")...)
	if !bytes.Equal(p.lastPlaintext, want) {
		t.Errorf("plaintext = %v; want security-layer header + user (%v)", p.lastPlaintext, want)
	}
	if !p.lastConf {
		t.Error("confidentiality flag was not passed through")
	}
	if c.Response() == "" || c.Response() == handshakeToken {
		t.Error("Wrap did not produce a fresh response token")
	}
	// trailer|data|padding concatenated in that fixed order.
	if c.Response() != EncodeToken([]byte("TRLDATAPAD")) {
		t.Errorf("Response = %q; want encoded trailer+data+padding", c.Response())
	}
}

func TestClientWrap_PassThroughMode(t *testing.T) {
	p := newStubProvider()
	c := establishedClient(t, p)
	defer c.Close()

	if _, err := c.Wrap(EncodeToken([]byte("payload")), "", false); err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if !bytes.Equal(p.lastPlaintext, []byte("payload")) {
		t.Errorf("plaintext = %q; want decoded data", p.lastPlaintext)
	}
	if p.lastConf {
		t.Error("integrity-only wrap requested confidentiality")
	}
}

func TestClientWrap_DecodeFailureShortCircuits(t *testing.T) {
	p := newStubProvider()
	c := establishedClient(t, p)
	defer c.Close()

	_, err := c.Wrap("%%%", "", true)
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v; want *DecodeError", err)
	}
	if p.count("Protect") != 0 {
		t.Error("Protect was called with undecodable data")
	}
}

func TestClientUnwrap(t *testing.T) {
	p := newStubProvider()
	p.level = ProtectionIntegrity
	c := establishedClient(t, p)
	defer c.Close()

	status, err := c.Unwrap(EncodeToken([]byte("wrapped")))
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if status != StatusComplete {
		t.Errorf("status = %v; want StatusComplete", status)
	}
	if c.ProtectionLevel() != ProtectionIntegrity {
		t.Errorf("ProtectionLevel = %v; want ProtectionIntegrity", c.ProtectionLevel())
	}
	if c.Response() != EncodeToken(p.plaintext) {
		t.Errorf("Response = %q; want re-encoded plaintext", c.Response())
	}
}

func TestClientUnwrap_ResetsProtectionLevel(t *testing.T) {
	p := newStubProvider()
	p.level = ProtectionConfidentiality
	c := establishedClient(t, p)
	defer c.Close()

	if _, err := c.Unwrap(EncodeToken([]byte("w"))); err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if c.ProtectionLevel() != ProtectionConfidentiality {
		t.Fatalf("ProtectionLevel = %v; want ProtectionConfidentiality", c.ProtectionLevel())
	}

	// A failed unwrap must clear the previously negotiated level first.
	p.errs["Unprotect"] = errors.New("checksum mismatch")
	if _, err := c.Unwrap(EncodeToken([]byte("w"))); err == nil {
		t.Fatal("Unwrap succeeded; want provider error")
	}
	if c.ProtectionLevel() != ProtectionNone {
		t.Errorf("ProtectionLevel = %v after failed Unwrap; want ProtectionNone", c.ProtectionLevel())
	}
}

func TestClientClose_Idempotent(t *testing.T) {
	p := newStubProvider()
	c := establishedClient(t, p)

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	contexts, creds := len(p.releasedContexts), len(p.releasedCreds)
	if contexts != 1 || creds != 1 {
		t.Fatalf("first Close released %d contexts, %d creds; want 1, 1", contexts, creds)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if len(p.releasedContexts) != contexts || len(p.releasedCreds) != creds {
		t.Error("second Close released resources again")
	}

	var perr *ProtocolError
	if _, err := c.Step(""); !errors.As(err, &perr) {
		t.Errorf("Step after Close = %v; want *ProtocolError", err)
	}
}
