package negotiate

// stubProvider is a recording SecurityProvider for state-machine tests. Every
// call is appended to calls; errs injects failures per operation; steps queues
// the outcomes InitiateContext/AcceptContext hand back.
type stubProvider struct {
	calls []string
	errs  map[string]error
	steps []*StepToken

	lastInput    []byte
	lastBinding  []byte
	lastIdentity *Identity
	lastMaxToken int

	selfName  string
	peerName  string
	peerErr   error
	localName string

	sizes    Sizes
	maxToken int

	protected     *ProtectedMessage
	lastPlaintext []byte
	lastConf      bool

	plaintext []byte
	level     ProtectionLevel

	releasedContexts []SecContext
	releasedCreds    []Credential
}

type stubCred struct{ id int }
type stubSC struct{ id int }

func newStubProvider() *stubProvider {
	return &stubProvider{
		errs:      map[string]error{},
		selfName:  "user@EXAMPLE.COM",
		peerName:  `EXAMPLE\user`,
		localName: "localuser",
		sizes:     Sizes{SecurityTrailer: 16, BlockSize: 8},
		maxToken:  4096,
		protected: &ProtectedMessage{Trailer: []byte("TRL"), Data: []byte("DATA"), Padding: []byte("PAD")},
		plaintext: []byte("plaintext"),
		level:     ProtectionConfidentiality,
	}
}

func (p *stubProvider) record(op string) error {
	p.calls = append(p.calls, op)
	return p.errs[op]
}

func (p *stubProvider) count(op string) int {
	n := 0
	for _, c := range p.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (p *stubProvider) nextStep(existing SecContext) *StepToken {
	if len(p.steps) == 0 {
		sc := existing
		if sc == nil {
			sc = &stubSC{}
		}
		return &StepToken{Status: StatusContinue, Token: []byte("token"), Context: sc}
	}
	st := p.steps[0]
	p.steps = p.steps[1:]
	if st.Context == nil {
		st.Context = existing
	}
	return st
}

func (p *stubProvider) AcquireOutboundCredential(mechanism string, identity *Identity) (Credential, error) {
	if err := p.record("AcquireOutboundCredential"); err != nil {
		return nil, err
	}
	p.lastIdentity = identity
	return &stubCred{}, nil
}

func (p *stubProvider) AcquireInboundCredential(mechanism string) (Credential, error) {
	if err := p.record("AcquireInboundCredential"); err != nil {
		return nil, err
	}
	return &stubCred{}, nil
}

func (p *stubProvider) InitiateContext(cred Credential, sc SecContext, targetName string, flags ContextFlag, inputToken, channelBinding []byte) (*StepToken, error) {
	if err := p.record("InitiateContext"); err != nil {
		return nil, err
	}
	p.lastInput = inputToken
	p.lastBinding = channelBinding
	return p.nextStep(sc), nil
}

func (p *stubProvider) AcceptContext(cred Credential, sc SecContext, inputToken []byte, maxTokenSize int) (*StepToken, error) {
	if err := p.record("AcceptContext"); err != nil {
		return nil, err
	}
	p.lastInput = inputToken
	p.lastMaxToken = maxTokenSize
	return p.nextStep(sc), nil
}

func (p *stubProvider) QueryName(sc SecContext, mode NameMode) (string, error) {
	if err := p.record("QueryName"); err != nil {
		return "", err
	}
	if mode == NameSelf {
		return p.selfName, nil
	}
	if p.peerErr != nil {
		return "", p.peerErr
	}
	return p.peerName, nil
}

func (p *stubProvider) ImpersonateLocalName(sc SecContext) (string, error) {
	if err := p.record("ImpersonateLocalName"); err != nil {
		return "", err
	}
	return p.localName, nil
}

func (p *stubProvider) MaxTokenSize(mechanism string) (int, error) {
	if err := p.record("MaxTokenSize"); err != nil {
		return 0, err
	}
	return p.maxToken, nil
}

func (p *stubProvider) QuerySizes(sc SecContext) (Sizes, error) {
	if err := p.record("QuerySizes"); err != nil {
		return Sizes{}, err
	}
	return p.sizes, nil
}

func (p *stubProvider) Protect(sc SecContext, plaintext []byte, confidentiality bool) (*ProtectedMessage, error) {
	if err := p.record("Protect"); err != nil {
		return nil, err
	}
	p.lastPlaintext = append([]byte(nil), plaintext...)
	p.lastConf = confidentiality
	return p.protected, nil
}

func (p *stubProvider) Unprotect(sc SecContext, wrapped []byte) ([]byte, ProtectionLevel, error) {
	if err := p.record("Unprotect"); err != nil {
		return nil, ProtectionNone, err
	}
	return p.plaintext, p.level, nil
}

func (p *stubProvider) ReleaseContext(sc SecContext) {
	p.record("ReleaseContext")
	p.releasedContexts = append(p.releasedContexts, sc)
}

func (p *stubProvider) ReleaseCredential(cred Credential) {
	p.record("ReleaseCredential")
	p.releasedCreds = append(p.releasedCreds, cred)
}
