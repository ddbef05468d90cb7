//go:build windows
// +build windows

package main

import (
	"net"

	"github.com/Microsoft/go-winio"

	negotiate "github.com/smnsjas/go-negotiate"
	"github.com/smnsjas/go-negotiate/provider/sspi"
)

func newProvider(opts providerOptions) (negotiate.SecurityProvider, error) {
	// SSPI accepts under the process identity; keytabs are a Kerberos
	// file-based concept and are ignored here.
	return &sspi.Provider{}, nil
}

func listenOn(addr, pipe string) (net.Listener, error) {
	if pipe != "" {
		return winio.ListenPipe(pipe, nil)
	}
	return net.Listen("tcp", addr)
}
