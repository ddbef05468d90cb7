//go:build windows
// +build windows

package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"

	negotiate "github.com/smnsjas/go-negotiate"
	"github.com/smnsjas/go-negotiate/provider/sspi"
)

func dialServer(server, pipe string, timeout time.Duration) (net.Conn, error) {
	if pipe != "" {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		conn, err := winio.DialPipeContext(ctx, pipe)
		if err != nil {
			return nil, fmt.Errorf("connect to pipe %s: %w", pipe, err)
		}
		return conn, nil
	}
	conn, err := net.DialTimeout("tcp", server, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", server, err)
	}
	return conn, nil
}

// supportsSSO reports whether authentication can proceed without -user.
// SSPI uses the logged-on identity.
func supportsSSO() bool { return true }

func mechanismFor(useNTLM bool) string {
	if useNTLM {
		return sspi.MechanismNTLM
	}
	return negotiate.MechanismNegotiate
}

func newProvider(opts providerOptions) (negotiate.SecurityProvider, error) {
	return &sspi.Provider{}, nil
}
