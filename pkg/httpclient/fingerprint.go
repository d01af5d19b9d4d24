package httpclient

import (
	"context"
	"fmt"
	"net"
	"time"

	utls "github.com/refraction-networking/utls"
)

// FingerprintID names a browser TLS fingerprint the client can present
// instead of the Go TLS stack's. WAFs that fingerprint ClientHello
// messages (JA3) treat Go's default as automation and block it before
// any payload is seen.
type FingerprintID string

const (
	// FingerprintChrome mimics a current Chrome on Windows.
	FingerprintChrome FingerprintID = "chrome"

	// FingerprintFirefox mimics a current Firefox on Windows.
	FingerprintFirefox FingerprintID = "firefox"

	// FingerprintSafari mimics Safari on macOS.
	FingerprintSafari FingerprintID = "safari"
)

// helloFor maps a fingerprint ID to its uTLS ClientHello preset.
func helloFor(id FingerprintID) (utls.ClientHelloID, error) {
	switch id {
	case FingerprintChrome:
		return utls.HelloChrome_Auto, nil
	case FingerprintFirefox:
		return utls.HelloFirefox_Auto, nil
	case FingerprintSafari:
		return utls.HelloSafari_Auto, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("httpclient: unknown fingerprint %q", id)
	}
}

// Fingerprints returns the IDs accepted by Config.Fingerprint.
func Fingerprints() []FingerprintID {
	return []FingerprintID{FingerprintChrome, FingerprintFirefox, FingerprintSafari}
}

// fingerprintDialer returns a DialTLSContext that completes the
// handshake with the mimicked ClientHello.
func fingerprintDialer(id FingerprintID, skipVerify bool, timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		hello, err := helloFor(id)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		dialer := &net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		uconn := utls.UClient(conn, &utls.Config{
			ServerName:         host,
			InsecureSkipVerify: skipVerify,
		}, hello)

		if err := uconn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("httpclient: %s handshake: %w", id, err)
		}
		return uconn, nil
	}
}
