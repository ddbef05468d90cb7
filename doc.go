// Package negotiate implements the client and server sides of a negotiated
// authentication exchange (Kerberos, NTLM, or SPNEGO) and message protection
// over the established security context.
//
// The package is transport-agnostic: tokens are handed to the caller as
// single-line base64 text and can be carried over HTTP headers, SASL, or any
// other channel. The cryptography itself lives behind the SecurityProvider
// interface; implementations are provided for Windows SSPI, pure Go Kerberos,
// and raw NTLM.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│  ClientContext / ServerContext   handshake state        │
//	├─────────────────────────────────────────────────────────┤
//	│  SecurityProvider                capability facade      │
//	├─────────────────────────────────────────────────────────┤
//	│  provider/sspi   Windows SSPI (Negotiate/Kerberos/NTLM) │
//	│  provider/krb5   pure Go Kerberos/SPNEGO                │
//	│  provider/ntlm   raw NTLM (go-ntlmssp)                  │
//	└─────────────────────────────────────────────────────────┘
//
// # Quick Start
//
// Client side:
//
//	cc := negotiate.NewClientContext(provider, negotiate.ClientConfig{
//	    TargetName: "HTTP/server.domain.com",
//	    Flags:      negotiate.FlagMutual | negotiate.FlagConfidentiality,
//	})
//	defer cc.Close()
//
//	if _, err := cc.Init(); err != nil {
//	    log.Fatal(err)
//	}
//	status, err := cc.Step("") // first leg has no challenge
//	for err == nil && status == negotiate.StatusContinue {
//	    challenge := send(cc.Response()) // transport is the caller's business
//	    status, err = cc.Step(challenge)
//	}
//
// Server side:
//
//	sc := negotiate.NewServerContext(provider, negotiate.ServerConfig{})
//	defer sc.Close()
//
//	if _, err := sc.Init(); err != nil {
//	    log.Fatal(err)
//	}
//	status, err := sc.Step(clientToken)
//	// on StatusComplete, sc.Principal() names the authenticated client
//
// Contexts are not safe for concurrent use; the caller serializes operations
// on a single context. Distinct contexts are independent.
package negotiate
