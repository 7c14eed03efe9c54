package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"

	"golang.org/x/net/http2"

	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// ContentTypeCBOR is the media type of posted snapshots.
const ContentTypeCBOR = "application/cbor"

// HTTPConfig configures an HTTPSink.
type HTTPConfig struct {
	// URL is the ingest endpoint. http:// uses cleartext HTTP/2 (h2c),
	// https:// uses HTTP/2 over TLS 1.2 or later.
	URL string

	// CAFile optionally pins the CA bundle for an https endpoint.
	CAFile string

	// RootCAs overrides CAFile with an already loaded pool.
	RootCAs *x509.CertPool
}

// HTTPSink posts each snapshot as a CBOR document over HTTP/2.
type HTTPSink struct {
	url       string
	client    *http.Client
	transport *http2.Transport
}

// NewHTTPSink creates an HTTPSink for the configured endpoint.
func NewHTTPSink(cfg HTTPConfig) (*HTTPSink, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	var transport *http2.Transport
	switch u.Scheme {
	case "https":
		pool := cfg.RootCAs
		if pool == nil && cfg.CAFile != "" {
			caCert, err := os.ReadFile(cfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA certificate: %w", err)
			}
			pool = x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to parse CA certificate")
			}
		}
		transport = &http2.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    pool,
				MinVersion: tls.VersionTLS12,
			},
		}
	case "http":
		// Prior-knowledge h2c: dial plain TCP where TLS would be used.
		transport = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		}
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	return &HTTPSink{
		url:       u.String(),
		client:    &http.Client{Transport: transport},
		transport: transport,
	}, nil
}

// Name returns "http:<url>".
func (s *HTTPSink) Name() string {
	return "http:" + s.url
}

// Write posts the snapshot. Any status outside 2xx is an error.
func (s *HTTPSink) Write(ctx context.Context, snap snapshot.RegisterSnapshot) error {
	body, err := snapshot.Encode(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ContentTypeCBOR)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// Close releases idle connections.
func (s *HTTPSink) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}

// Compile-time interface satisfaction check.
var _ Sink = (*HTTPSink)(nil)
