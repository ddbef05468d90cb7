package negotiate

import "encoding/base64"

// tokenEncoding is standard padded base64 with no line breaks, so every
// encoded token fits on a single line of any text transport. Strict mode
// rejects tokens whose trailing padding bits are not zero.
var tokenEncoding = base64.StdEncoding.Strict()

// EncodeToken converts a raw binary token to its transport form.
func EncodeToken(raw []byte) string {
	return tokenEncoding.EncodeToString(raw)
}

// DecodeToken converts transport text back to the raw binary token. Malformed
// input yields a *DecodeError; no provider resources are touched first.
func DecodeToken(text string) ([]byte, error) {
	raw, err := tokenEncoding.DecodeString(text)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return raw, nil
}
