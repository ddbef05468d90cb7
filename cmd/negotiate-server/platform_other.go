//go:build !windows
// +build !windows

package main

import (
	"fmt"
	"net"

	negotiate "github.com/smnsjas/go-negotiate"
	"github.com/smnsjas/go-negotiate/provider/krb5"
)

func newProvider(opts providerOptions) (negotiate.SecurityProvider, error) {
	if opts.keytab == "" {
		return nil, fmt.Errorf("-keytab is required on this platform")
	}
	return krb5.New(krb5.Config{
		Krb5ConfPath:      opts.krb5Conf,
		ServiceKeytabPath: opts.keytab,
		ServicePrincipal:  opts.spn,
	})
}

func listenOn(addr, pipe string) (net.Listener, error) {
	if pipe != "" {
		return nil, fmt.Errorf("named pipes are only available on Windows")
	}
	return net.Listen("tcp", addr)
}
