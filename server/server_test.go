package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/edu-ledger/digest"
	"github.com/luca-patrignani/edu-ledger/ledger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *ledger.Blockchain, *ledger.FileStore) {
	t.Helper()
	store := ledger.NewFileStore(filepath.Join(t.TempDir(), "chain.json"))
	chain, err := ledger.Open(store)
	require.NoError(t, err)
	return New(chain, discardLogger(), opts...), chain, store
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func uploadRequest(t *testing.T, path string, field string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, "certificate.pdf")
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAddAndVerifyRecord(t *testing.T) {
	s, chain, store := newTestServer(t)
	alice := url.Values{"name": {"Alice"}, "roll": {"101"}, "gpa": {"3.9"}}

	rec := do(t, s, formRequest("/records", alice))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[blockResponse](t, rec)
	assert.Equal(t, 1, added.Block.Index)
	assert.Equal(t, digest.Record("Alice", "101", "3.9").String(), added.Fingerprint)
	assert.Equal(t, 2, chain.Len())

	restored, err := ledger.Open(store)
	require.NoError(t, err)
	assert.Equal(t, chain.Blocks(), restored.Blocks())

	rec = do(t, s, formRequest("/records/verify", alice))
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[lookupResponse](t, rec)
	assert.True(t, found.Found)
	assert.Equal(t, 1, found.Index)
	assert.Equal(t, added.Block.Timestamp, found.Timestamp)

	alice.Set("gpa", "3.8")
	rec = do(t, s, formRequest("/records/verify", alice))
	assert.False(t, decode[lookupResponse](t, rec).Found)
}

func TestAddRecordJSON(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/records", strings.NewReader(`{"name":" Bob ","roll":"7","gpa":"2.5"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := do(t, s, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, digest.Record("Bob", "7", "2.5").String(), decode[blockResponse](t, rec).Fingerprint)
}

func TestAddRecordMissingFields(t *testing.T) {
	s, chain, _ := newTestServer(t)

	rec := do(t, s, formRequest("/records", url.Values{"name": {"Alice"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "roll, gpa")
	assert.Equal(t, 1, chain.Len())

	req := httptest.NewRequest(http.MethodPost, "/records", strings.NewReader(`{"name":`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(t, s, req).Code)
}

func TestAddRecordPersistFailure(t *testing.T) {
	chain := ledger.NewBlockchain(nil)
	s := New(chain, discardLogger())

	rec := do(t, s, formRequest("/records", url.Values{"name": {"A"}, "roll": {"1"}, "gpa": {"4"}}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 2, chain.Len())
}

func TestCertificates(t *testing.T) {
	s, chain, _ := newTestServer(t)
	content := []byte("%PDF-1.7 diploma for Alice")

	rec := do(t, s, uploadRequest(t, "/certificates", "file", content))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[blockResponse](t, rec)
	assert.Equal(t, digest.File(content).String(), added.Fingerprint)
	assert.Equal(t, ledger.KindCertificate, added.Block.Kind)

	rec = do(t, s, uploadRequest(t, "/certificates/verify", "file", content))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[lookupResponse](t, rec).Found)

	rec = do(t, s, uploadRequest(t, "/certificates/verify", "file", []byte("forged")))
	assert.False(t, decode[lookupResponse](t, rec).Found)

	byPrint := formRequest("/certificates/verify", url.Values{"fingerprint": {strings.ToUpper(added.Fingerprint)}})
	rec = do(t, s, byPrint)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[lookupResponse](t, rec).Found)

	assert.Equal(t, 2, chain.Len())
}

func TestCertificateUploadErrors(t *testing.T) {
	s, chain, _ := newTestServer(t)
	small := New(chain, discardLogger(), WithMaxUploadSize(512))

	rec := do(t, s, uploadRequest(t, "/certificates", "document", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, `"file"`)

	rec = do(t, small, uploadRequest(t, "/certificates", "file", bytes.Repeat([]byte("x"), 4096)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = do(t, small, uploadRequest(t, "/certificates/verify", "file", bytes.Repeat([]byte("x"), 4096)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = do(t, s, formRequest("/certificates", url.Values{"file": {"x"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, formRequest("/certificates/verify", url.Values{"fingerprint": {"nope"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 1, chain.Len())
}

func TestChainAndValidate(t *testing.T) {
	s, chain, store := newTestServer(t)
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		_, err := chain.AddRecord(name, "1", "3.0")
		require.NoError(t, err)
	}

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/chain", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	blocks := decode[[]ledger.Block](t, rec)
	assert.Equal(t, chain.Blocks(), blocks)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/validate", nil))
	assert.Equal(t, ledger.Report{Valid: true}, decode[ledger.Report](t, rec))

	// Tamper with the snapshot and reload it the way a restarted process would.
	blocks[2].Payload = digest.Record("Mallory", "1", "4.0").String()
	require.NoError(t, store.Save(blocks))
	reloaded, err := ledger.Open(store)
	require.NoError(t, err)

	rec = do(t, New(reloaded, discardLogger()), httptest.NewRequest(http.MethodGet, "/validate", nil))
	assert.Equal(t, ledger.Report{Valid: false, Index: 2, Reason: ledger.ReasonHashMismatch}, decode[ledger.Report](t, rec))
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"blocks": 1}, decode[map[string]int](t, rec))

	assert.Equal(t, http.StatusNotFound, do(t, s, httptest.NewRequest(http.MethodGet, "/nope", nil)).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, httptest.NewRequest(http.MethodGet, "/records", nil)).Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeTLS(t *testing.T) {
	cert, certPEM, err := GenerateSelfSignedCert("127.0.0.1:0")
	require.NoError(t, err)
	s, _, _ := newTestServer(t, WithCertificate(cert))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Serve(ctx, l) }()

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(certPEM))
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}

	resp, err := client.Get("https://" + l.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
