// Package sspi implements negotiate.SecurityProvider on the Windows
// Security Support Provider Interface. It is the only provider that covers
// the full surface: initiating and accepting under Negotiate, Kerberos or
// NTLM, single sign-on with the logged-on identity, impersonation, and
// message protection.
//
// Only built on Windows.
package sspi
