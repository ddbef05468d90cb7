package negotiate

import "encoding/binary"

// tlsServerEndPointPrefix is the channel binding type prefix per RFC 5929.
const tlsServerEndPointPrefix = "tls-server-end-point:"

// NewTLSChannelBinding builds a SEC_CHANNEL_BINDINGS blob for the
// tls-server-end-point binding type from a server certificate hash, suitable
// for ClientConfig.ChannelBinding with the SSPI provider.
//
// The structure is 8 little-endian uint32 fields (32 bytes); the address
// fields stay zero and the application data is the RFC 5929 prefix followed
// by the certificate hash.
// https://learn.microsoft.com/en-us/windows/win32/api/sspi/ns-sspi-sec_channel_bindings
func NewTLSChannelBinding(certHash []byte) []byte {
	appData := append([]byte(tlsServerEndPointPrefix), certHash...)

	const headerSize = 32
	buf := make([]byte, headerSize+len(appData))

	// cbApplicationDataLength and dwApplicationDataOffset are the only
	// non-zero header fields.
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(appData)))
	binary.LittleEndian.PutUint32(buf[28:32], headerSize)
	copy(buf[headerSize:], appData)

	return buf
}
