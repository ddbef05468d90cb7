package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestRedactingHandler(t *testing.T) {
	tests := []struct {
		name     string
		attrs    []slog.Attr
		expected map[string]string
	}{
		{
			name: "credential material is redacted",
			attrs: []slog.Attr{
				slog.String("password", "hunter2"),
				slog.String("challenge", "TlRMTVNTUAACAAAA"),
				slog.String("serviceTicket", "YIIG..."),
				slog.String("target", "HTTP/host.example.com"), // safe
			},
			expected: map[string]string{
				"password":      "[REDACTED]",
				"challenge":     "[REDACTED]",
				"serviceTicket": "[REDACTED]",
				"target":        "HTTP/host.example.com",
			},
		},
		{
			name: "case insensitive matching",
			attrs: []slog.Attr{
				slog.String("UserPassword", "secret"),
				slog.String("AUTH_TOKEN", "xyz"),
				slog.String("ChannelBinding", "abcd"),
			},
			expected: map[string]string{
				"UserPassword":   "[REDACTED]",
				"AUTH_TOKEN":     "[REDACTED]",
				"ChannelBinding": "[REDACTED]",
			},
		},
		{
			name: "nested groups are redacted",
			attrs: []slog.Attr{
				slog.Group("identity",
					slog.String("password", "hidden"),
					slog.String("user", "visible"),
				),
			},
			expected: map[string]string{
				"identity.password": "[REDACTED]",
				"identity.user":     "visible",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := NewRedactingHandler(slog.NewJSONHandler(&buf, nil))
			logger := slog.New(h)

			args := make([]any, len(tt.attrs))
			for i, a := range tt.attrs {
				args[i] = a
			}
			logger.Info("test message", args...)

			var result map[string]any
			if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
				t.Fatalf("failed to parse log output: %v", err)
			}

			for k, v := range tt.expected {
				parts := strings.Split(k, ".")
				var val any = result
				var found bool

				for i, part := range parts {
					m, ok := val.(map[string]any)
					if !ok {
						break
					}
					val, ok = m[part]
					if !ok {
						break
					}
					if i == len(parts)-1 {
						found = true
					}
				}

				if !found {
					t.Errorf("key %s not found in output", k)
					continue
				}
				if val != v {
					t.Errorf("key %s: got %v, want %v", k, val, v)
				}
			}
		})
	}
}

func TestTokenPreview(t *testing.T) {
	if got := TokenPreview("YIIGxg=="); got != "<8 bytes>" {
		t.Errorf("TokenPreview(string) = %q, want <8 bytes>", got)
	}
	if got := TokenPreview([]byte{1, 2, 3}); got != "<3 bytes>" {
		t.Errorf("TokenPreview([]byte) = %q, want <3 bytes>", got)
	}
	if got := TokenPreview(""); got != "<0 bytes>" {
		t.Errorf("TokenPreview(empty) = %q, want <0 bytes>", got)
	}
}
