//go:build windows
// +build windows

package sspi

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/alexbrainman/sspi"
	"golang.org/x/sys/windows"

	"github.com/smnsjas/go-negotiate"
)

// Context attributes not declared by the sspi package.
const (
	secpkgAttrNames       = 1
	secpkgAttrNativeNames = 13
)

// KERB_WRAP_NO_ENCRYPT: sign but do not seal.
const secqopWrapNoEncrypt = 0x80000001

// MechanismKerberos and MechanismNTLM select a specific security package
// instead of SPNEGO negotiation.
const (
	MechanismKerberos = "Kerberos"
	MechanismNTLM     = "NTLM"
)

// Provider implements negotiate.SecurityProvider on SSPI. The zero value is
// usable.
type Provider struct{}

type statusError struct {
	op   string
	code uint32
}

func (e statusError) Error() string {
	return fmt.Sprintf("SSPI %s: error 0x%x", e.op, e.code)
}

type outboundCred struct {
	cred *sspi.Credentials
	pkg  string
}

type inboundCred struct {
	cred *sspi.Credentials
}

type clientContext struct {
	ctx      *sspi.Context
	target   *uint16
	maxToken uint32
}

type serverContext struct {
	ctx *sspi.Context
}

func packageName(mechanism string) (string, error) {
	switch mechanism {
	case negotiate.MechanismNegotiate:
		return sspi.NEGOSSP_NAME, nil
	case MechanismKerberos:
		return sspi.MICROSOFT_KERBEROS_NAME, nil
	case MechanismNTLM:
		return sspi.NTLMSP_NAME, nil
	}
	return "", fmt.Errorf("unknown security package %q", mechanism)
}

// AcquireOutboundCredential acquires an SSPI credential handle for
// initiating. A nil identity selects the logged-on user (single sign-on).
func (p *Provider) AcquireOutboundCredential(mechanism string, identity *negotiate.Identity) (negotiate.Credential, error) {
	pkg, err := packageName(mechanism)
	if err != nil {
		return nil, err
	}

	var authData *byte
	if identity != nil {
		authData, err = buildAuthIdentity(identity.Domain, identity.User, identity.Password)
		if err != nil {
			return nil, err
		}
	}
	cred, err := sspi.AcquireCredentials("", pkg, sspi.SECPKG_CRED_OUTBOUND, authData)
	if err != nil {
		return nil, fmt.Errorf("acquire outbound credentials: %w", err)
	}
	return &outboundCred{cred: cred, pkg: pkg}, nil
}

// AcquireInboundCredential acquires an SSPI credential handle for accepting
// under the process identity.
func (p *Provider) AcquireInboundCredential(mechanism string) (negotiate.Credential, error) {
	pkg, err := packageName(mechanism)
	if err != nil {
		return nil, err
	}
	cred, err := sspi.AcquireCredentials("", pkg, sspi.SECPKG_CRED_INBOUND, nil)
	if err != nil {
		return nil, fmt.Errorf("acquire inbound credentials: %w", err)
	}
	return &inboundCred{cred: cred}, nil
}

func iscFlags(ctxFlags negotiate.ContextFlag) uint32 {
	f := uint32(sspi.ISC_REQ_CONNECTION)
	if ctxFlags&negotiate.FlagDelegation != 0 {
		f |= sspi.ISC_REQ_DELEGATE
	}
	if ctxFlags&negotiate.FlagMutual != 0 {
		f |= sspi.ISC_REQ_MUTUAL_AUTH
	}
	if ctxFlags&negotiate.FlagReplayDetect != 0 {
		f |= sspi.ISC_REQ_REPLAY_DETECT
	}
	if ctxFlags&negotiate.FlagSequenceDetect != 0 {
		f |= sspi.ISC_REQ_SEQUENCE_DETECT
	}
	if ctxFlags&negotiate.FlagConfidentiality != 0 {
		f |= sspi.ISC_REQ_CONFIDENTIALITY
	}
	if ctxFlags&negotiate.FlagIntegrity != 0 {
		f |= sspi.ISC_REQ_INTEGRITY
	}
	return f
}

// InitiateContext runs one InitializeSecurityContext leg. The channel
// binding blob, when present, rides along as a SECBUFFER_CHANNEL_BINDINGS
// input buffer on every leg.
func (p *Provider) InitiateContext(cred negotiate.Credential, sc negotiate.SecContext, targetName string, ctxFlags negotiate.ContextFlag, inputToken, channelBinding []byte) (*negotiate.StepToken, error) {
	oc, ok := cred.(*outboundCred)
	if !ok {
		return nil, fmt.Errorf("credential is not an sspi outbound credential")
	}

	cc, _ := sc.(*clientContext)
	if cc == nil {
		target, err := syscall.UTF16PtrFromString(targetName)
		if err != nil {
			return nil, fmt.Errorf("encode target name to UTF-16: %w", err)
		}
		pkgInfo, err := sspi.QueryPackageInfo(oc.pkg)
		if err != nil {
			return nil, fmt.Errorf("query security package: %w", err)
		}
		cc = &clientContext{
			ctx:      sspi.NewClientContext(oc.cred, iscFlags(ctxFlags)),
			target:   target,
			maxToken: pkgInfo.MaxToken,
		}
	}

	// Input buffers: TOKEN first, channel bindings after. The first leg
	// must not carry an empty TOKEN buffer; some systems return
	// SEC_E_INVALID_TOKEN for it.
	var inBuf [2]sspi.SecBuffer
	var inBufs *sspi.SecBufferDesc
	if len(inputToken) > 0 {
		inBuf[0].Set(sspi.SECBUFFER_TOKEN, inputToken)
		inBufs = &sspi.SecBufferDesc{
			Version:      sspi.SECBUFFER_VERSION,
			BuffersCount: 1,
			Buffers:      &inBuf[0],
		}
		if len(channelBinding) > 0 {
			inBuf[1].Set(sspi.SECBUFFER_CHANNEL_BINDINGS, channelBinding)
			inBufs.BuffersCount = 2
		}
	} else if len(channelBinding) > 0 {
		inBuf[0].Set(sspi.SECBUFFER_CHANNEL_BINDINGS, channelBinding)
		inBufs = &sspi.SecBufferDesc{
			Version:      sspi.SECBUFFER_VERSION,
			BuffersCount: 1,
			Buffers:      &inBuf[0],
		}
	}

	out, status, err := updateContext(cc.ctx, cc.target, inBufs, int(cc.maxToken), "InitializeSecurityContext")
	if err != nil {
		return nil, err
	}
	return &negotiate.StepToken{Status: status, Token: out, Context: cc}, nil
}

// AcceptContext runs one AcceptSecurityContext leg.
func (p *Provider) AcceptContext(cred negotiate.Credential, sc negotiate.SecContext, inputToken []byte, maxTokenSize int) (*negotiate.StepToken, error) {
	ic, ok := cred.(*inboundCred)
	if !ok {
		return nil, fmt.Errorf("credential is not an sspi inbound credential")
	}

	scx, _ := sc.(*serverContext)
	if scx == nil {
		scx = &serverContext{ctx: sspi.NewServerContext(ic.cred, sspi.ASC_REQ_CONNECTION)}
	}

	var inBuf [1]sspi.SecBuffer
	inBuf[0].Set(sspi.SECBUFFER_TOKEN, inputToken)
	inBufs := &sspi.SecBufferDesc{
		Version:      sspi.SECBUFFER_VERSION,
		BuffersCount: 1,
		Buffers:      &inBuf[0],
	}

	out, status, err := updateContext(scx.ctx, nil, inBufs, maxTokenSize, "AcceptSecurityContext")
	if err != nil {
		return nil, err
	}
	return &negotiate.StepToken{Status: status, Token: out, Context: scx}, nil
}

func updateContext(ctx *sspi.Context, target *uint16, inBufs *sspi.SecBufferDesc, maxToken int, op string) ([]byte, negotiate.Status, error) {
	dst := make([]byte, maxToken)
	var outBuf [1]sspi.SecBuffer
	outBuf[0].Set(sspi.SECBUFFER_TOKEN, dst)
	outBufs := &sspi.SecBufferDesc{
		Version:      sspi.SECBUFFER_VERSION,
		BuffersCount: 1,
		Buffers:      &outBuf[0],
	}

	ret := ctx.Update(target, outBufs, inBufs)
	n := int(outBuf[0].BufferSize)

	switch ret {
	case sspi.SEC_E_OK:
		return dst[:n], negotiate.StatusComplete, nil
	case sspi.SEC_I_CONTINUE_NEEDED:
		return dst[:n], negotiate.StatusContinue, nil
	case sspi.SEC_I_COMPLETE_NEEDED, sspi.SEC_I_COMPLETE_AND_CONTINUE:
		if c := sspi.CompleteAuthToken(ctx.Handle, outBufs); c != sspi.SEC_E_OK {
			return nil, negotiate.StatusContinue, statusError{op: "CompleteAuthToken", code: uint32(c)}
		}
		if ret == sspi.SEC_I_COMPLETE_AND_CONTINUE {
			return dst[:n], negotiate.StatusContinue, nil
		}
		return dst[:n], negotiate.StatusComplete, nil
	default:
		return nil, negotiate.StatusContinue, statusError{op: op, code: uint32(ret)}
	}
}

func contextHandle(sc negotiate.SecContext) (*sspi.Context, error) {
	switch c := sc.(type) {
	case *clientContext:
		if c.ctx != nil {
			return c.ctx, nil
		}
	case *serverContext:
		if c.ctx != nil {
			return c.ctx, nil
		}
	}
	return nil, fmt.Errorf("not an established sspi security context")
}

type secPkgContextNativeNames struct {
	clientName *uint16
	serverName *uint16
}

type secPkgContextNames struct {
	userName *uint16
}

// QueryName reads the client principal from SECPKG_ATTR_NATIVE_NAMES, with
// SECPKG_ATTR_NAMES as the fallback for packages that do not keep native
// names.
func (p *Provider) QueryName(sc negotiate.SecContext, mode negotiate.NameMode) (string, error) {
	ctx, err := contextHandle(sc)
	if err != nil {
		return "", err
	}

	var native secPkgContextNativeNames
	ret := sspi.QueryContextAttributes(ctx.Handle, secpkgAttrNativeNames, (*byte)(unsafe.Pointer(&native)))
	if ret == sspi.SEC_E_OK {
		name := native.clientName
		if mode == negotiate.NameSelf {
			if _, isServer := sc.(*serverContext); isServer {
				name = native.serverName
			}
		}
		s := windows.UTF16PtrToString(name)
		if native.clientName != nil {
			sspi.FreeContextBuffer((*byte)(unsafe.Pointer(native.clientName)))
		}
		if native.serverName != nil {
			sspi.FreeContextBuffer((*byte)(unsafe.Pointer(native.serverName)))
		}
		if s != "" {
			return s, nil
		}
		return "", negotiate.ErrNameUnavailable
	}

	var names secPkgContextNames
	ret = sspi.QueryContextAttributes(ctx.Handle, secpkgAttrNames, (*byte)(unsafe.Pointer(&names)))
	if ret != sspi.SEC_E_OK {
		return "", statusError{op: "QueryContextAttributes", code: uint32(ret)}
	}
	s := windows.UTF16PtrToString(names.userName)
	if names.userName != nil {
		sspi.FreeContextBuffer((*byte)(unsafe.Pointer(names.userName)))
	}
	if s == "" {
		return "", negotiate.ErrNameUnavailable
	}
	return s, nil
}

// ImpersonateLocalName impersonates the authenticated client, reads the
// DOMAIN\user account name, and reverts before returning.
func (p *Provider) ImpersonateLocalName(sc negotiate.SecContext) (string, error) {
	ctx, err := contextHandle(sc)
	if err != nil {
		return "", err
	}

	if ret := sspi.ImpersonateSecurityContext(ctx.Handle); ret != sspi.SEC_E_OK {
		return "", statusError{op: "ImpersonateSecurityContext", code: uint32(ret)}
	}
	defer sspi.RevertSecurityContext(ctx.Handle)

	size := uint32(256)
	for {
		buf := make([]uint16, size)
		err := windows.GetUserNameEx(windows.NameSamCompatible, &buf[0], &size)
		if err == nil {
			return windows.UTF16ToString(buf[:size]), nil
		}
		if err != windows.ERROR_MORE_DATA || size <= uint32(len(buf)) {
			return "", fmt.Errorf("get impersonated user name: %w", err)
		}
	}
}

func (p *Provider) MaxTokenSize(mechanism string) (int, error) {
	pkg, err := packageName(mechanism)
	if err != nil {
		return 0, err
	}
	pkgInfo, err := sspi.QueryPackageInfo(pkg)
	if err != nil {
		return 0, fmt.Errorf("query security package: %w", err)
	}
	return int(pkgInfo.MaxToken), nil
}

func (p *Provider) QuerySizes(sc negotiate.SecContext) (negotiate.Sizes, error) {
	ctx, err := contextHandle(sc)
	if err != nil {
		return negotiate.Sizes{}, err
	}
	_, _, blockSize, securityTrailer, err := ctx.Sizes()
	if err != nil {
		return negotiate.Sizes{}, fmt.Errorf("query context sizes: %w", err)
	}
	return negotiate.Sizes{
		SecurityTrailer: int(securityTrailer),
		BlockSize:       int(blockSize),
	}, nil
}

// Protect seals plaintext with EncryptMessage. Integrity-only requests use
// the KERB_WRAP_NO_ENCRYPT quality of protection, which signs without
// sealing.
func (p *Provider) Protect(sc negotiate.SecContext, plaintext []byte, confidentiality bool) (*negotiate.ProtectedMessage, error) {
	ctx, err := contextHandle(sc)
	if err != nil {
		return nil, err
	}
	_, _, blockSize, securityTrailer, err := ctx.Sizes()
	if err != nil {
		return nil, fmt.Errorf("query context sizes: %w", err)
	}

	var qop uint32
	if !confidentiality {
		qop = secqopWrapNoEncrypt
	}

	var buffers [3]sspi.SecBuffer
	buffers[0].Set(sspi.SECBUFFER_TOKEN, make([]byte, securityTrailer))
	buffers[1].Set(sspi.SECBUFFER_DATA, plaintext)
	buffers[2].Set(sspi.SECBUFFER_PADDING, make([]byte, blockSize))

	ret := sspi.EncryptMessage(ctx.Handle, qop, sspi.NewSecBufferDesc(buffers[:]), 0)
	if ret != sspi.SEC_E_OK {
		return nil, statusError{op: "EncryptMessage", code: uint32(ret)}
	}
	return &negotiate.ProtectedMessage{
		Trailer: buffers[0].Bytes(),
		Data:    buffers[1].Bytes(),
		Padding: buffers[2].Bytes(),
	}, nil
}

// Unprotect verifies and decrypts a wrapped message with DecryptMessage,
// reporting whether the peer sealed it or only signed it.
func (p *Provider) Unprotect(sc negotiate.SecContext, wrapped []byte) ([]byte, negotiate.ProtectionLevel, error) {
	ctx, err := contextHandle(sc)
	if err != nil {
		return nil, negotiate.ProtectionNone, err
	}

	var buffers [2]sspi.SecBuffer
	buffers[0].Set(sspi.SECBUFFER_STREAM, wrapped)
	buffers[1].Set(sspi.SECBUFFER_DATA, []byte{})

	var qop uint32
	ret := sspi.DecryptMessage(ctx.Handle, sspi.NewSecBufferDesc(buffers[:]), 0, &qop)
	if ret != sspi.SEC_E_OK {
		return nil, negotiate.ProtectionNone, statusError{op: "DecryptMessage", code: uint32(ret)}
	}

	level := negotiate.ProtectionConfidentiality
	if qop == secqopWrapNoEncrypt {
		level = negotiate.ProtectionIntegrity
	}
	return buffers[1].Bytes(), level, nil
}

func (p *Provider) ReleaseContext(sc negotiate.SecContext) {
	switch c := sc.(type) {
	case *clientContext:
		if c.ctx != nil {
			c.ctx.Release()
			c.ctx = nil
		}
	case *serverContext:
		if c.ctx != nil {
			c.ctx.Release()
			c.ctx = nil
		}
	}
}

func (p *Provider) ReleaseCredential(cred negotiate.Credential) {
	switch c := cred.(type) {
	case *outboundCred:
		if c.cred != nil {
			c.cred.Release()
			c.cred = nil
		}
	case *inboundCred:
		if c.cred != nil {
			c.cred.Release()
			c.cred = nil
		}
	}
}

// buildAuthIdentity packs explicit credentials into a
// SEC_WINNT_AUTH_IDENTITY for AcquireCredentialsHandle.
func buildAuthIdentity(domain, username, password string) (*byte, error) {
	d, err := syscall.UTF16FromString(domain)
	if err != nil {
		return nil, fmt.Errorf("encode domain to UTF-16: %w", err)
	}
	u, err := syscall.UTF16FromString(username)
	if err != nil {
		return nil, fmt.Errorf("encode username to UTF-16: %w", err)
	}
	pw, err := syscall.UTF16FromString(password)
	if err != nil {
		return nil, fmt.Errorf("encode password to UTF-16: %w", err)
	}
	identity := &sspi.SEC_WINNT_AUTH_IDENTITY{
		User:           &u[0],
		UserLength:     uint32(len(u) - 1),
		Domain:         &d[0],
		DomainLength:   uint32(len(d) - 1),
		Password:       &pw[0],
		PasswordLength: uint32(len(pw) - 1),
		Flags:          sspi.SEC_WINNT_AUTH_IDENTITY_UNICODE,
	}
	return (*byte)(unsafe.Pointer(identity)), nil
}

var _ negotiate.SecurityProvider = (*Provider)(nil)
