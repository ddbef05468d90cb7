// Package krb5 implements negotiate.SecurityProvider on the pure Go
// go-krb5 Kerberos stack. It works on every platform but needs explicit
// credentials: a password, a keytab, or a credential cache from kinit.
//
// The initiating side produces SPNEGO-framed KRB5 tokens and protects
// messages with GSSAPI wrap tokens. The accepting side validates SPNEGO
// tokens against a service keytab.
//
// Impersonation is a Windows concept and is not supported here; the server
// state machine only reaches it when the peer name cannot be read from the
// accept context, which this provider always populates on success.
package krb5
