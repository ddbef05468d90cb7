package ntlm

import (
	"fmt"

	"github.com/Azure/go-ntlmssp"
	ntlmcbt "github.com/smnsjas/go-ntlm-cbt"

	"github.com/smnsjas/go-negotiate"
)

// NTLM messages are small; the AUTHENTICATE message with an NTLMv2 response
// and target info stays well under this.
const maxNTLMTokenSize = 4 << 10

// MechanismNTLM selects raw NTLM explicitly.
const MechanismNTLM = "NTLM"

// Provider implements the initiator side of negotiate.SecurityProvider with
// raw NTLM messages. The zero value is usable.
type Provider struct {
	// Workstation is the name sent in the NEGOTIATE message. Empty is
	// accepted by every server the author has met.
	Workstation string
}

type outboundCred struct {
	user     string
	domain   string
	password string
}

func (c *outboundCred) name() string {
	if c.domain != "" {
		return c.domain + `\` + c.user
	}
	return c.user
}

type initiatorContext struct {
	cred     *outboundCred
	nego     *ntlmcbt.Negotiator
	selfName string
	complete bool
}

func checkMechanism(mechanism string) error {
	switch mechanism {
	case negotiate.MechanismNegotiate, MechanismNTLM:
		return nil
	}
	return fmt.Errorf("mechanism %q not supported by the ntlm provider", mechanism)
}

// AcquireOutboundCredential captures the explicit identity. NTLM has no
// ambient credential store outside Windows, so a nil identity is an error.
func (p *Provider) AcquireOutboundCredential(mechanism string, identity *negotiate.Identity) (negotiate.Credential, error) {
	if err := checkMechanism(mechanism); err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, fmt.Errorf("the ntlm provider requires explicit credentials")
	}
	if identity.User == "" {
		return nil, fmt.Errorf("the ntlm provider requires a user name")
	}
	return &outboundCred{
		user:     identity.User,
		domain:   identity.Domain,
		password: identity.Password,
	}, nil
}

// AcquireInboundCredential is not supported; NTLM acceptance needs the
// domain controller reachable only through SSPI.
func (p *Provider) AcquireInboundCredential(mechanism string) (negotiate.Credential, error) {
	return nil, fmt.Errorf("accepting is not supported by the ntlm provider")
}

// InitiateContext runs the fixed three-leg NTLM exchange: the first call
// emits NEGOTIATE, the second consumes CHALLENGE and emits AUTHENTICATE.
func (p *Provider) InitiateContext(cred negotiate.Credential, sc negotiate.SecContext, targetName string, ctxFlags negotiate.ContextFlag, inputToken, channelBinding []byte) (*negotiate.StepToken, error) {
	oc, ok := cred.(*outboundCred)
	if !ok {
		return nil, fmt.Errorf("credential is not an ntlm credential")
	}

	if sc == nil {
		ic := &initiatorContext{cred: oc, selfName: oc.name()}
		var out []byte
		var err error
		if len(channelBinding) != 0 {
			ic.nego = &ntlmcbt.Negotiator{ChannelBindings: channelBinding}
			out, err = ic.nego.Negotiate(oc.domain, p.Workstation)
		} else {
			out, err = ntlmssp.NewNegotiateMessage(oc.domain, p.Workstation)
		}
		if err != nil {
			return nil, fmt.Errorf("build negotiate message: %w", err)
		}
		return &negotiate.StepToken{Status: negotiate.StatusContinue, Token: out, Context: ic}, nil
	}

	ic, ok := sc.(*initiatorContext)
	if !ok {
		return nil, fmt.Errorf("security context is not an ntlm initiator context")
	}
	if ic.complete {
		return nil, fmt.Errorf("initiator context already established")
	}
	if len(inputToken) == 0 {
		return nil, fmt.Errorf("expected an NTLM challenge message")
	}

	var out []byte
	var err error
	if ic.nego != nil {
		out, err = ic.nego.ChallengeResponse(inputToken, oc.user, oc.password)
	} else {
		out, err = ntlmssp.ProcessChallenge(inputToken, oc.user, oc.password)
	}
	if err != nil {
		return nil, fmt.Errorf("process challenge: %w", err)
	}
	ic.complete = true
	return &negotiate.StepToken{Status: negotiate.StatusComplete, Token: out, Context: ic}, nil
}

func (p *Provider) AcceptContext(cred negotiate.Credential, sc negotiate.SecContext, inputToken []byte, maxTokenSize int) (*negotiate.StepToken, error) {
	return nil, fmt.Errorf("accepting is not supported by the ntlm provider")
}

// QueryName reports the identity the credential was acquired for; NTLM has
// no authenticated peer name on the initiator side.
func (p *Provider) QueryName(sc negotiate.SecContext, mode negotiate.NameMode) (string, error) {
	ic, ok := sc.(*initiatorContext)
	if !ok || mode != negotiate.NameSelf || ic.selfName == "" {
		return "", negotiate.ErrNameUnavailable
	}
	return ic.selfName, nil
}

func (p *Provider) ImpersonateLocalName(sc negotiate.SecContext) (string, error) {
	return "", fmt.Errorf("impersonation is not supported by the ntlm provider")
}

func (p *Provider) MaxTokenSize(mechanism string) (int, error) {
	if err := checkMechanism(mechanism); err != nil {
		return 0, err
	}
	return maxNTLMTokenSize, nil
}

func (p *Provider) QuerySizes(sc negotiate.SecContext) (negotiate.Sizes, error) {
	return negotiate.Sizes{}, fmt.Errorf("message protection is not supported by the ntlm provider")
}

func (p *Provider) Protect(sc negotiate.SecContext, plaintext []byte, confidentiality bool) (*negotiate.ProtectedMessage, error) {
	return nil, fmt.Errorf("message protection is not supported by the ntlm provider")
}

func (p *Provider) Unprotect(sc negotiate.SecContext, wrapped []byte) ([]byte, negotiate.ProtectionLevel, error) {
	return nil, negotiate.ProtectionNone, fmt.Errorf("message protection is not supported by the ntlm provider")
}

func (p *Provider) ReleaseContext(sc negotiate.SecContext) {
	if ic, ok := sc.(*initiatorContext); ok {
		ic.cred = nil
		ic.nego = nil
	}
}

// ReleaseCredential drops the captured password.
func (p *Provider) ReleaseCredential(cred negotiate.Credential) {
	if oc, ok := cred.(*outboundCred); ok {
		oc.password = ""
	}
}

var _ negotiate.SecurityProvider = (*Provider)(nil)
