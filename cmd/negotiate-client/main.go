// Command negotiate-client authenticates against a negotiate-server over a
// newline-delimited token exchange and then sends one protected message.
//
// Password can be provided via:
//   - -pass flag (least secure, visible in process list)
//   - NEGOTIATE_PASSWORD environment variable (recommended)
//   - stdin prompt (if neither flag nor env var is set)
//
// Usage:
//
//	negotiate-client -server host:9752 -target HTTP/host.example.com -user alice -realm EXAMPLE.COM
//
// On Windows the platform SSPI provider is used and -user may be omitted for
// single sign-on; elsewhere the pure Go Kerberos provider is used, or raw
// NTLM with -ntlm.
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

	"github.com/joeshaw/envdecode"
	"golang.org/x/term"

	"github.com/smnsjas/go-negotiate"
	intlog "github.com/smnsjas/go-negotiate/internal/log"
)

// envConfig is the environment fallback for flags, decoded with envdecode.
type envConfig struct {
	Server   string `env:"NEGOTIATE_SERVER"`
	Target   string `env:"NEGOTIATE_TARGET"`
	User     string `env:"NEGOTIATE_USER"`
	Domain   string `env:"NEGOTIATE_DOMAIN"`
	Password string `env:"NEGOTIATE_PASSWORD"`
}

// providerOptions collects the flags the platform-specific provider
// constructors need.
type providerOptions struct {
	useNTLM   bool
	realm     string
	krb5Conf  string
	ccache    string
	keytab    string
	mechanism string
}

func main() {
	var env envConfig
	_ = envdecode.Decode(&env)

	server := flag.String("server", env.Server, "server address (host:port)")
	pipe := flag.String("pipe", "", `named pipe path instead of TCP (Windows only, e.g. \\.\pipe\negotiate)`)
	target := flag.String("target", env.Target, "service principal name (e.g. HTTP/host.example.com)")
	user := flag.String("user", env.User, "user name (empty for single sign-on where supported)")
	domain := flag.String("domain", env.Domain, "domain or Kerberos realm of the user")
	pass := flag.String("pass", "", "password (use NEGOTIATE_PASSWORD env var instead)")
	message := flag.String("message", "ping", "plaintext to protect and send after authentication")
	useNTLM := flag.Bool("ntlm", false, "use raw NTLM instead of Kerberos/Negotiate")
	realm := flag.String("realm", "", "default Kerberos realm (e.g. EXAMPLE.COM)")
	krb5Conf := flag.String("krb5conf", "", "path to krb5.conf")
	ccache := flag.String("ccache", "", "path to a Kerberos credential cache")
	keytab := flag.String("keytab", "", "path to a client keytab")
	timeout := flag.Duration("timeout", 30*time.Second, "connection deadline")
	logLevel := flag.String("loglevel", "info", "log level: debug, info, warn, error")
	logFile := flag.String("logfile", "", "log destination file (rotated; empty = stderr)")
	flag.Parse()

	logger, closeLog, err := buildLogger(*logLevel, *logFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer closeLog()

	if (*server == "" && *pipe == "") || *target == "" {
		fmt.Fprintln(os.Stderr, "Error: -server (or -pipe) and -target are required")
		flag.Usage()
		os.Exit(1)
	}
	if *user == "" && !supportsSSO() {
		fmt.Fprintln(os.Stderr, "Error: -user is required (single sign-on is not available on this platform)")
		os.Exit(1)
	}

	var identity *negotiate.Identity
	if *user != "" {
		identity = &negotiate.Identity{
			User:     *user,
			Domain:   *domain,
			Password: resolvePassword(*pass, env.Password),
		}
	}

	opts := providerOptions{
		useNTLM:   *useNTLM,
		realm:     *realm,
		krb5Conf:  *krb5Conf,
		ccache:    *ccache,
		keytab:    *keytab,
		mechanism: mechanismFor(*useNTLM),
	}
	provider, err := newProvider(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	if err := run(provider, opts.mechanism, *server, *pipe, *target, identity, *message, *timeout, logger); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(provider negotiate.SecurityProvider, mechanism, server, pipe, target string, identity *negotiate.Identity, message string, timeout time.Duration, logger *slog.Logger) error {
	conn, err := dialServer(server, pipe, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	cc := negotiate.NewClientContext(provider, negotiate.ClientConfig{
		Mechanism:  mechanism,
		TargetName: target,
		Identity:   identity,
		Logger:     logger,
	})
	defer cc.Close()

	if _, err := cc.Init(); err != nil {
		return err
	}
	if _, err := cc.Step(""); err != nil {
		return err
	}

	rd := bufio.NewReader(conn)
	if err := send(conn, "A", cc.Response()); err != nil {
		return err
	}

	for {
		verb, rest, err := recv(rd)
		if err != nil {
			return err
		}
		switch verb {
		case "A":
			status, err := cc.Step(rest)
			if err != nil {
				return err
			}
			logger.Debug("handshake leg", "status", status, "response", intlog.TokenPreview(cc.Response()))
			// Even on the final leg the server still sends its OK line.
			if cc.Response() != "" {
				if err := send(conn, "A", cc.Response()); err != nil {
					return err
				}
			}
		case "OK":
			fields := strings.SplitN(rest, " ", 2)
			principal := fields[0]
			if !cc.Complete() {
				// Finish the local context; the server's final token is
				// present only for mechanisms that send one.
				var final string
				if len(fields) == 2 {
					final = fields[1]
				}
				if _, err := cc.Step(final); err != nil {
					return err
				}
			}
			logger.Info("authenticated", "localPrincipal", cc.Principal(), "serverSawPrincipal", principal)
			fmt.Printf("authenticated as %s (server saw %s)\n", cc.Principal(), principal)
			return sendProtected(conn, rd, cc, message, logger)
		case "ERR":
			return fmt.Errorf("server rejected authentication: %s", rest)
		default:
			return fmt.Errorf("unexpected server verb %q", verb)
		}
	}
}

// sendProtected wraps the demo message on the established context and waits
// for the server's acknowledgment.
func sendProtected(conn net.Conn, rd *bufio.Reader, cc *negotiate.ClientContext, message string, logger *slog.Logger) error {
	if _, err := cc.Wrap(negotiate.EncodeToken([]byte(message)), "", true); err != nil {
		return fmt.Errorf("wrap message: %w", err)
	}
	if err := send(conn, "W", cc.Response()); err != nil {
		return err
	}
	verb, rest, err := recv(rd)
	if err != nil {
		return err
	}
	if verb != "BYE" {
		return fmt.Errorf("unexpected server verb %q after protected message", verb)
	}
	logger.Debug("server acknowledged protected message", "detail", rest)
	return nil
}

func send(conn net.Conn, verb, payload string) error {
	line := verb
	if payload != "" {
		line += " " + payload
	}
	if _, err := fmt.Fprintln(conn, line); err != nil {
		return fmt.Errorf("send %s line: %w", verb, err)
	}
	return nil
}

func recv(rd *bufio.Reader) (verb, rest string, err error) {
	line, err := rd.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("read server line: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	verb, rest, _ = strings.Cut(line, " ")
	return verb, rest, nil
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

// resolvePassword follows flag, environment, then prompt.
func resolvePassword(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue != "" {
		return envValue
	}

	fmt.Fprint(os.Stderr, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		passBytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return ""
		}
		return string(passBytes)
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}
