//go:build !windows
// +build !windows

package main

import (
	"fmt"
	"net"
	"time"

	negotiate "github.com/smnsjas/go-negotiate"
	"github.com/smnsjas/go-negotiate/provider/krb5"
	"github.com/smnsjas/go-negotiate/provider/ntlm"
)

func dialServer(server, pipe string, timeout time.Duration) (net.Conn, error) {
	if pipe != "" {
		return nil, fmt.Errorf("named pipes are only available on Windows")
	}
	conn, err := net.DialTimeout("tcp", server, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", server, err)
	}
	return conn, nil
}

// supportsSSO reports whether authentication can proceed without -user.
// Off Windows that needs a Kerberos credential cache, which is checked at
// credential acquisition, so allow it here.
func supportsSSO() bool { return true }

func mechanismFor(useNTLM bool) string {
	if useNTLM {
		return ntlm.MechanismNTLM
	}
	return negotiate.MechanismNegotiate
}

func newProvider(opts providerOptions) (negotiate.SecurityProvider, error) {
	if opts.useNTLM {
		return &ntlm.Provider{}, nil
	}
	return krb5.New(krb5.Config{
		Krb5ConfPath: opts.krb5Conf,
		Realm:        opts.realm,
		KeytabPath:   opts.keytab,
		CCachePath:   opts.ccache,
	})
}
