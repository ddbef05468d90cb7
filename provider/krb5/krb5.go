package krb5

import (
	"context"
	"fmt"
	"os"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/config"
	"github.com/go-krb5/krb5/credentials"
	"github.com/go-krb5/krb5/gssapi"
	"github.com/go-krb5/krb5/iana/flags"
	"github.com/go-krb5/krb5/keytab"
	"github.com/go-krb5/krb5/service"
	"github.com/go-krb5/krb5/spnego"

	"github.com/smnsjas/go-negotiate"
)

// defaultMaxTokenSize bounds output tokens when the KDC does not say
// otherwise. Kerberos tickets with a large PAC can approach this.
const defaultMaxTokenSize = 48 << 10

// Config holds the provider-level Kerberos settings. Per-exchange inputs
// (target SPN, identity, flags) arrive through the SecurityProvider calls.
type Config struct {
	// Krb5ConfPath is the path to krb5.conf. Empty means $KRB5_CONFIG,
	// then /etc/krb5.conf.
	Krb5ConfPath string

	// Realm is the default realm for explicit identities whose Domain
	// field is empty. Empty means the default_realm from krb5.conf.
	Realm string

	// KeytabPath, when set, is used for outbound credentials instead of
	// the identity's password.
	KeytabPath string

	// CCachePath is a credential cache from kinit; used when an exchange
	// requests the ambient identity (nil *negotiate.Identity). Empty means
	// $KRB5CCNAME.
	CCachePath string

	// ServiceKeytabPath is the keytab used for inbound (acceptor)
	// credentials.
	ServiceKeytabPath string

	// ServicePrincipal overrides the principal looked up in the service
	// keytab. Empty accepts any principal the keytab holds.
	ServicePrincipal string
}

// Provider implements negotiate.SecurityProvider on the pure Go Kerberos
// stack. The zero value is not usable; call New.
type Provider struct {
	cfg  Config
	conf *config.Config
}

// New loads krb5.conf and returns a provider bound to it.
func New(cfg Config) (*Provider, error) {
	path := cfg.Krb5ConfPath
	if path == "" {
		path = os.Getenv("KRB5_CONFIG")
		if path == "" {
			path = "/etc/krb5.conf"
		}
	}
	conf, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf from %s: %w", path, err)
	}
	return &Provider{cfg: cfg, conf: conf}, nil
}

type outboundCred struct {
	cl   *client.Client
	name string
}

type inboundCred struct {
	kt  *keytab.Keytab
	spn string
}

type initiatorContext struct {
	nc       *spnego.NegotiateClient
	selfName string
	complete bool
}

type acceptorContext struct {
	peerName    string
	established bool
}

// peerIdentity is the subset of the authenticated credentials the SPNEGO
// service stores on its context that we need for naming the peer.
type peerIdentity interface {
	UserName() string
	Domain() string
}

func checkMechanism(mechanism string) error {
	switch mechanism {
	case negotiate.MechanismNegotiate, "Kerberos":
		return nil
	}
	return fmt.Errorf("mechanism %q not supported by the kerberos provider", mechanism)
}

// AcquireOutboundCredential builds a Kerberos client from, in order of
// preference, the configured keytab, the identity's password, or the
// credential cache when the identity is nil.
func (p *Provider) AcquireOutboundCredential(mechanism string, identity *negotiate.Identity) (negotiate.Credential, error) {
	if err := checkMechanism(mechanism); err != nil {
		return nil, err
	}

	if identity == nil {
		path := p.cfg.CCachePath
		if path == "" {
			path = os.Getenv("KRB5CCNAME")
		}
		if path == "" {
			return nil, fmt.Errorf("ambient identity requires a credential cache (kinit first, or set KRB5CCNAME)")
		}
		cc, err := credentials.LoadCCache(path)
		if err != nil {
			return nil, fmt.Errorf("load ccache from %s: %w", path, err)
		}
		cl, err := client.NewFromCCache(cc, p.conf, client.DisablePAFXFAST(true))
		if err != nil {
			return nil, fmt.Errorf("create client from ccache: %w", err)
		}
		name := cc.GetClientPrincipalName().PrincipalNameString() + "@" + cc.GetClientRealm()
		return &outboundCred{cl: cl, name: name}, nil
	}

	realm := identity.Domain
	if realm == "" {
		realm = p.cfg.Realm
	}
	if realm == "" {
		return nil, fmt.Errorf("no realm for %q: set a Domain on the identity or a Realm in the provider config", identity.User)
	}

	var cl *client.Client
	if p.cfg.KeytabPath != "" {
		kt, err := keytab.Load(p.cfg.KeytabPath)
		if err != nil {
			return nil, fmt.Errorf("load keytab from %s: %w", p.cfg.KeytabPath, err)
		}
		cl = client.NewWithKeytab(identity.User, realm, kt, p.conf, client.DisablePAFXFAST(true))
	} else {
		cl = client.NewWithPassword(identity.User, realm, identity.Password, p.conf, client.DisablePAFXFAST(true))
	}
	return &outboundCred{cl: cl, name: identity.User + "@" + realm}, nil
}

// AcquireInboundCredential loads the service keytab the acceptor will
// validate tickets against.
func (p *Provider) AcquireInboundCredential(mechanism string) (negotiate.Credential, error) {
	if err := checkMechanism(mechanism); err != nil {
		return nil, err
	}
	if p.cfg.ServiceKeytabPath == "" {
		return nil, fmt.Errorf("accepting requires a service keytab (Config.ServiceKeytabPath)")
	}
	kt, err := keytab.Load(p.cfg.ServiceKeytabPath)
	if err != nil {
		return nil, fmt.Errorf("load service keytab from %s: %w", p.cfg.ServiceKeytabPath, err)
	}
	return &inboundCred{kt: kt, spn: p.cfg.ServicePrincipal}, nil
}

// InitiateContext produces the SPNEGO NegTokenInit on the first leg and
// treats the server's NegTokenResp as acceptance on the second; the fork's
// AP-REP verification happens inside the wrap-token session on first use.
func (p *Provider) InitiateContext(cred negotiate.Credential, sc negotiate.SecContext, targetName string, ctxFlags negotiate.ContextFlag, inputToken, channelBinding []byte) (*negotiate.StepToken, error) {
	oc, ok := cred.(*outboundCred)
	if !ok {
		return nil, fmt.Errorf("credential is not an outbound kerberos credential")
	}
	if len(channelBinding) != 0 {
		return nil, fmt.Errorf("channel binding is not supported by the kerberos provider")
	}

	if sc == nil {
		if err := oc.cl.Login(); err != nil {
			return nil, fmt.Errorf("kerberos login: %w", err)
		}
		tkt, sessionKey, err := oc.cl.GetServiceTicket(targetName)
		if err != nil {
			return nil, fmt.Errorf("get service ticket for %s: %w", targetName, err)
		}

		gssFlags := gssFlagList(ctxFlags)
		var apOptions []int
		if ctxFlags&negotiate.FlagMutual != 0 {
			apOptions = append(apOptions, flags.APOptionMutualRequired)
		}

		negTokenInit, err := spnego.NewNegTokenInitKRB5WithFlags(oc.cl, tkt, sessionKey, gssFlags, apOptions)
		if err != nil {
			return nil, fmt.Errorf("create negTokenInit: %w", err)
		}
		spnegoToken := &spnego.SPNEGOToken{
			Init:         true,
			NegTokenInit: negTokenInit,
		}
		out, err := spnegoToken.Marshal()
		if err != nil {
			return nil, fmt.Errorf("marshal spnego token: %w", err)
		}

		ic := &initiatorContext{
			nc:       spnego.NewNegotiateClient(oc.cl, targetName),
			selfName: oc.name,
		}
		return &negotiate.StepToken{Status: negotiate.StatusContinue, Token: out, Context: ic}, nil
	}

	ic, ok := sc.(*initiatorContext)
	if !ok {
		return nil, fmt.Errorf("security context is not a kerberos initiator context")
	}
	if ic.complete {
		return nil, fmt.Errorf("initiator context already established")
	}
	// An empty input means the acceptor finished without a NegTokenResp.
	// The embedded AP-REP ResponseToken is not consumed here: the wrap-token
	// session the NegotiateClient holds verifies the AP exchange keys on
	// first protected message either way.
	if len(inputToken) > 0 {
		var resp spnego.SPNEGOToken
		if err := resp.Unmarshal(inputToken); err != nil {
			return nil, fmt.Errorf("unmarshal negTokenResp: %w", err)
		}
		switch state := resp.NegTokenResp.State(); state {
		case spnego.NegStateReject:
			return nil, fmt.Errorf("acceptor rejected the negotiation")
		case spnego.NegStateAcceptIncomplete, spnego.NegStateRequestMIC:
			return &negotiate.StepToken{Status: negotiate.StatusContinue, Context: ic}, nil
		case spnego.NegStateAcceptCompleted:
			// fall through
		default:
			return nil, fmt.Errorf("unknown negotiation state %d in negTokenResp", state)
		}
	}
	ic.complete = true
	return &negotiate.StepToken{Status: negotiate.StatusComplete, Context: ic}, nil
}

// AcceptContext validates one SPNEGO token against the service keytab.
func (p *Provider) AcceptContext(cred negotiate.Credential, sc negotiate.SecContext, inputToken []byte, maxTokenSize int) (*negotiate.StepToken, error) {
	icred, ok := cred.(*inboundCred)
	if !ok {
		return nil, fmt.Errorf("credential is not an inbound kerberos credential")
	}
	if maxTokenSize > 0 && len(inputToken) > maxTokenSize {
		return nil, fmt.Errorf("input token of %d bytes exceeds the %d byte mechanism limit", len(inputToken), maxTokenSize)
	}

	ac, _ := sc.(*acceptorContext)
	if ac == nil {
		ac = &acceptorContext{}
	} else if ac.established {
		return nil, fmt.Errorf("acceptor context already established")
	}

	var svc *spnego.SPNEGO
	if icred.spn != "" {
		svc = spnego.SPNEGOService(icred.kt, service.KeytabPrincipal(icred.spn))
	} else {
		svc = spnego.SPNEGOService(icred.kt)
	}

	var tok spnego.SPNEGOToken
	if err := tok.Unmarshal(inputToken); err != nil {
		return nil, fmt.Errorf("unmarshal spnego token: %w", err)
	}
	authed, ctx, status := svc.AcceptSecContext(&tok)
	switch status.Code {
	case gssapi.StatusContinueNeeded:
		return &negotiate.StepToken{Status: negotiate.StatusContinue, Context: ac}, nil
	case gssapi.StatusComplete:
		// fall through
	default:
		return nil, fmt.Errorf("accept security context: %s", status.Message)
	}
	if !authed {
		return nil, fmt.Errorf("spnego token did not authenticate")
	}
	ac.established = true
	ac.peerName = peerNameFrom(ctx)
	return &negotiate.StepToken{Status: negotiate.StatusComplete, Context: ac}, nil
}

func peerNameFrom(ctx context.Context) string {
	id, ok := ctx.Value(spnego.CTXKeyCredentials).(peerIdentity)
	if !ok {
		return ""
	}
	if d := id.Domain(); d != "" {
		return id.UserName() + "@" + d
	}
	return id.UserName()
}

// QueryName reports the stored self name on initiator contexts and the
// authenticated peer principal on acceptor contexts.
func (p *Provider) QueryName(sc negotiate.SecContext, mode negotiate.NameMode) (string, error) {
	switch c := sc.(type) {
	case *initiatorContext:
		if mode == negotiate.NameSelf && c.selfName != "" {
			return c.selfName, nil
		}
	case *acceptorContext:
		if mode == negotiate.NamePeer && c.peerName != "" {
			return c.peerName, nil
		}
	}
	return "", negotiate.ErrNameUnavailable
}

// ImpersonateLocalName is a Windows facility; this provider cannot supply it.
func (p *Provider) ImpersonateLocalName(sc negotiate.SecContext) (string, error) {
	return "", fmt.Errorf("impersonation is not supported by the kerberos provider")
}

func (p *Provider) MaxTokenSize(mechanism string) (int, error) {
	if err := checkMechanism(mechanism); err != nil {
		return 0, err
	}
	return defaultMaxTokenSize, nil
}

// QuerySizes reports conservative bounds for GSSAPI wrap tokens: a 16 byte
// token header plus checksum and confounder, and the AES block size.
func (p *Provider) QuerySizes(sc negotiate.SecContext) (negotiate.Sizes, error) {
	if _, ok := sc.(*initiatorContext); !ok {
		if _, ok := sc.(*acceptorContext); !ok {
			return negotiate.Sizes{}, fmt.Errorf("security context is not a kerberos context")
		}
	}
	return negotiate.Sizes{SecurityTrailer: 64, BlockSize: 16}, nil
}

// Protect wraps plaintext in a sealed GSSAPI wrap token. Sealing covers the
// integrity-only request too; the peer learns the applied level from the
// token itself.
func (p *Provider) Protect(sc negotiate.SecContext, plaintext []byte, confidentiality bool) (*negotiate.ProtectedMessage, error) {
	ic, err := establishedInitiator(sc)
	if err != nil {
		return nil, err
	}
	wrapped, err := ic.nc.WrapSealed(plaintext)
	if err != nil {
		return nil, fmt.Errorf("wrap message: %w", err)
	}
	return &negotiate.ProtectedMessage{Data: wrapped}, nil
}

// Unprotect verifies and unseals a GSSAPI wrap token.
func (p *Provider) Unprotect(sc negotiate.SecContext, wrapped []byte) ([]byte, negotiate.ProtectionLevel, error) {
	ic, err := establishedInitiator(sc)
	if err != nil {
		return nil, negotiate.ProtectionNone, err
	}
	res, err := ic.nc.UnwrapAuto(wrapped)
	if err != nil {
		return nil, negotiate.ProtectionNone, fmt.Errorf("unwrap message: %w", err)
	}
	return res.Payload, negotiate.ProtectionConfidentiality, nil
}

func establishedInitiator(sc negotiate.SecContext) (*initiatorContext, error) {
	switch c := sc.(type) {
	case *initiatorContext:
		if !c.complete {
			return nil, fmt.Errorf("initiator context not yet established")
		}
		return c, nil
	case *acceptorContext:
		return nil, fmt.Errorf("message protection is not supported on acceptor contexts")
	}
	return nil, fmt.Errorf("security context is not a kerberos context")
}

// ReleaseContext drops the context; the wrap-token session holds no OS
// resources.
func (p *Provider) ReleaseContext(sc negotiate.SecContext) {
	if ic, ok := sc.(*initiatorContext); ok {
		ic.nc = nil
		ic.complete = false
	}
}

// ReleaseCredential destroys the client session with the KDC.
func (p *Provider) ReleaseCredential(cred negotiate.Credential) {
	if oc, ok := cred.(*outboundCred); ok && oc.cl != nil {
		oc.cl.Destroy()
		oc.cl = nil
	}
}

func gssFlagList(ctxFlags negotiate.ContextFlag) []int {
	var out []int
	if ctxFlags&negotiate.FlagIntegrity != 0 {
		out = append(out, gssapi.ContextFlagInteg)
	}
	if ctxFlags&negotiate.FlagConfidentiality != 0 {
		out = append(out, gssapi.ContextFlagConf)
	}
	if ctxFlags&negotiate.FlagMutual != 0 {
		out = append(out, gssapi.ContextFlagMutual)
	}
	if ctxFlags&negotiate.FlagReplayDetect != 0 {
		out = append(out, gssapi.ContextFlagReplay)
	}
	if ctxFlags&negotiate.FlagSequenceDetect != 0 {
		out = append(out, gssapi.ContextFlagSequence)
	}
	if ctxFlags&negotiate.FlagDelegation != 0 {
		out = append(out, gssapi.ContextFlagDeleg)
	}
	return out
}

var _ negotiate.SecurityProvider = (*Provider)(nil)
