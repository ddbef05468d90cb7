// Package ntlm implements the initiator half of negotiate.SecurityProvider
// using raw NTLM messages. It exists for hosts that cannot reach a KDC:
// workgroup machines, IP-addressed targets, and servers outside the realm.
//
// NTLM is a fixed three-leg exchange (NEGOTIATE, CHALLENGE, AUTHENTICATE)
// and explicit credentials are mandatory. Accepting, impersonation and
// message protection are not provided; use provider/sspi on Windows when
// those are needed.
package ntlm
