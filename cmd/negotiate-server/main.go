// Command negotiate-server accepts authentication handshakes over a
// newline-delimited token exchange and reports the authenticated principal
// back to the client.
//
// Usage:
//
//	negotiate-server -listen :9752 -keytab /etc/http.keytab -spn HTTP/host.example.com
//
// On Windows the platform SSPI provider accepts under the process identity
// and no keytab is needed; -pipe serves on a named pipe instead of TCP.
// Elsewhere the pure Go Kerberos provider validates tickets against the
// service keytab.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"

	"github.com/smnsjas/go-negotiate"
	intlog "github.com/smnsjas/go-negotiate/internal/log"
)

// envConfig is the environment fallback for flags, decoded with envdecode.
type envConfig struct {
	Listen string `env:"NEGOTIATE_LISTEN,default=:9752"`
	Keytab string `env:"NEGOTIATE_KEYTAB"`
	SPN    string `env:"NEGOTIATE_SPN"`
}

// providerOptions collects the flags the platform-specific provider
// constructor needs.
type providerOptions struct {
	keytab   string
	spn      string
	krb5Conf string
}

func main() {
	var env envConfig
	_ = envdecode.Decode(&env)

	listen := flag.String("listen", env.Listen, "TCP listen address")
	pipe := flag.String("pipe", "", `named pipe path instead of TCP (Windows only, e.g. \\.\pipe\negotiate)`)
	keytab := flag.String("keytab", env.Keytab, "service keytab path")
	spn := flag.String("spn", env.SPN, "service principal in the keytab (empty = any)")
	krb5Conf := flag.String("krb5conf", "", "path to krb5.conf")
	connTimeout := flag.Duration("conn-timeout", 2*time.Minute, "per-connection deadline")
	logLevel := flag.String("loglevel", "info", "log level: debug, info, warn, error")
	logFile := flag.String("logfile", "", "log destination file (rotated; empty = stderr)")
	flag.Parse()

	logger, closeLog, err := buildLogger(*logLevel, *logFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer closeLog()

	provider, err := newProvider(providerOptions{
		keytab:   *keytab,
		spn:      *spn,
		krb5Conf: *krb5Conf,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	ln, err := listenOn(*listen, *pipe)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer ln.Close()
	logger.Info("listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Error("accept failed", "error", err)
			return
		}
		go serveConn(conn, provider, *connTimeout, logger)
	}
}

func serveConn(conn net.Conn, provider negotiate.SecurityProvider, timeout time.Duration, logger *slog.Logger) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	logger = logger.With("conn", uuid.NewString(), "remote", conn.RemoteAddr().String())

	sc := negotiate.NewServerContext(provider, negotiate.ServerConfig{Logger: logger})
	defer sc.Close()
	if _, err := sc.Init(); err != nil {
		logger.Error("acquire server credentials failed", "error", err)
		send(conn, "ERR", "server credentials unavailable")
		return
	}

	rd := bufio.NewReader(conn)
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return
		}
		verb, rest, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")

		switch verb {
		case "A":
			status, err := sc.Step(rest)
			if err != nil {
				logger.Warn("handshake step failed", "error", err)
				send(conn, "ERR", err.Error())
				return
			}
			if status == negotiate.StatusContinue {
				send(conn, "A", sc.Response())
				continue
			}
			logger.Info("client authenticated", "principal", sc.Principal())
			ok := sc.Principal()
			if sc.Response() != "" {
				ok += " " + sc.Response()
			}
			send(conn, "OK", ok)
		case "W":
			// The token exchange carries the protected message opaquely;
			// unwrapping is an initiator-side capability.
			logger.Info("protected message received", "size", intlog.TokenPreview(rest))
			send(conn, "BYE", "")
			return
		case "BYE":
			return
		default:
			send(conn, "ERR", fmt.Sprintf("unknown verb %q", verb))
			return
		}
	}
}

func send(conn net.Conn, verb, payload string) {
	line := verb
	if payload != "" {
		line += " " + payload
	}
	_, _ = fmt.Fprintln(conn, line)
}

func buildLogger(level, file string) (*slog.Logger, func(), error) {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "info":
		lv = slog.LevelInfo
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", level)
	}

	if file != "" {
		rf, err := intlog.NewRotatingFile(file, 10<<20, 3)
		if err != nil {
			return nil, nil, err
		}
		handler := intlog.NewRedactingHandler(slog.NewTextHandler(rf, &slog.HandlerOptions{Level: lv}))
		return slog.New(handler), func() { _ = rf.Close() }, nil
	}
	handler := intlog.NewRedactingHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
	return slog.New(handler), func() {}, nil
}
