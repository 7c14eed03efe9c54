package sink

import (
	"context"
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// ingest records posted snapshots.
type ingest struct {
	mu       sync.Mutex
	received []snapshot.RegisterSnapshot
	protos   []int
	status   int
}

func (in *ingest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != ContentTypeCBOR {
		http.Error(w, "bad content type", http.StatusUnsupportedMediaType)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s, err := snapshot.DecodeCBOR(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	in.mu.Lock()
	in.received = append(in.received, s)
	in.protos = append(in.protos, r.ProtoMajor)
	status := in.status
	in.mu.Unlock()

	if status == 0 {
		status = http.StatusAccepted
	}
	w.WriteHeader(status)
}

func TestHTTPSinkTLS(t *testing.T) {
	in := &ingest{}
	srv := httptest.NewUnstartedServer(in)
	srv.EnableHTTP2 = true
	srv.StartTLS()
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())

	hs, err := NewHTTPSink(HTTPConfig{URL: srv.URL + "/ingest", RootCAs: pool})
	require.NoError(t, err)
	defer hs.Close()

	snap := testSnapshot("press-1", 5, t0)
	require.NoError(t, hs.Write(context.Background(), snap))

	in.mu.Lock()
	defer in.mu.Unlock()
	require.Len(t, in.received, 1)
	assert.Equal(t, snap.ID, in.received[0].ID)
	assert.Equal(t, snap.Values, in.received[0].Values)
	assert.Equal(t, []int{2}, in.protos)
}

func TestHTTPSinkUntrustedCertificate(t *testing.T) {
	srv := httptest.NewUnstartedServer(&ingest{})
	srv.EnableHTTP2 = true
	srv.StartTLS()
	defer srv.Close()

	hs, err := NewHTTPSink(HTTPConfig{URL: srv.URL, RootCAs: x509.NewCertPool()})
	require.NoError(t, err)
	defer hs.Close()

	assert.Error(t, hs.Write(context.Background(), testSnapshot("press-1", 1, t0)))
}

func TestHTTPSinkCleartext(t *testing.T) {
	in := &ingest{}
	srv := httptest.NewServer(h2c.NewHandler(in, &http2.Server{}))
	defer srv.Close()

	hs, err := NewHTTPSink(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)
	defer hs.Close()

	require.NoError(t, hs.Write(context.Background(), testSnapshot("press-1", 1, t0)))
	require.NoError(t, hs.Write(context.Background(), testSnapshot("press-1", 2, t0)))

	in.mu.Lock()
	defer in.mu.Unlock()
	assert.Len(t, in.received, 2)
	assert.Equal(t, []int{2, 2}, in.protos)
}

func TestHTTPSinkErrorStatus(t *testing.T) {
	in := &ingest{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(h2c.NewHandler(in, &http2.Server{}))
	defer srv.Close()

	hs, err := NewHTTPSink(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)
	defer hs.Close()

	err = hs.Write(context.Background(), testSnapshot("press-1", 1, t0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPSinkConfigErrors(t *testing.T) {
	_, err := NewHTTPSink(HTTPConfig{URL: "ftp://example.com"})
	assert.EqualError(t, err, `unsupported url scheme "ftp"`)

	_, err = NewHTTPSink(HTTPConfig{URL: "https://example.com", CAFile: "/nonexistent/ca.pem"})
	assert.ErrorContains(t, err, "failed to read CA certificate")
}
