package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/jusosync/internal/errs"
	"github.com/brensch/jusosync/internal/logger"
	"github.com/brensch/jusosync/internal/util"
)

func testDay(t *testing.T) time.Time {
	t.Helper()
	d, err := util.ParseDay("20240307", util.KSTLocation())
	require.NoError(t, err)
	return d
}

func newClient(t *testing.T, baseURL, zipRoot string) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(HTTPOptions{
		BaseURL: baseURL,
		AppKey:  "secret",
		ZipRoot: zipRoot,
		Timeout: 5 * time.Second,
		Retries: 0,
	}, logger.Discard())
	require.NoError(t, err)
	return c
}

func TestReceiveDownloadsListedArchives(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/100001/20240307/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("app_key"))
		assert.Equal(t, "D", r.URL.Query().Get("date_gb"))
		assert.Equal(t, "Y", r.URL.Query().Get("retry_in"))
		fmt.Fprint(w, `<html><body><a href="../">up</a><a href="AlterD.JUSUKR.20240307.zip">zip</a></body></html>`)
	})
	mux.HandleFunc("/100001/20240307/AlterD.JUSUKR.20240307.zip", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "PK-archive-bytes")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	zipRoot := t.TempDir()
	c := newClient(t, srv.URL, zipRoot)
	resp, err := c.Receive(context.Background(), Request{Code: "100001", DateKind: DateKindDaily, From: testDay(t), To: testDay(t), Retry: true})
	require.NoError(t, err)
	assert.Equal(t, CodeSuccess, resp.Code)
	require.Len(t, resp.Files, 1)

	want := filepath.Join(zipRoot, "240307", "AlterD.JUSUKR.20240307.zip")
	assert.Equal(t, want, resp.Files[0].Path)
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "PK-archive-bytes", string(got))
	_, err = os.Stat(want + ".part")
	assert.True(t, os.IsNotExist(err))

	outcome, err := Classify(resp)
	require.NoError(t, err)
	assert.Equal(t, Delivered, outcome)
}

func TestReceiveNoDataOn404(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	resp, err := newClient(t, srv.URL, t.TempDir()).Receive(context.Background(), Request{Code: "100004", From: testDay(t), To: testDay(t)})
	require.NoError(t, err)
	assert.Equal(t, CodeNoData, resp.Code)

	outcome, err := Classify(resp)
	require.NoError(t, err)
	assert.Equal(t, NothingNew, outcome)
}

func TestReceiveServerErrorIsServiceError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL, t.TempDir()).Receive(context.Background(), Request{Code: "100001", From: testDay(t), To: testDay(t)})
	assert.ErrorIs(t, err, errs.ErrService)
	assert.Equal(t, int32(1), hits.Load())
}

func TestReceiveRequiresCode(t *testing.T) {
	_, err := newClient(t, "http://127.0.0.1:1", t.TempDir()).Receive(context.Background(), Request{})
	assert.ErrorIs(t, err, errs.ErrConfig)
}

func TestNewHTTPClientValidates(t *testing.T) {
	_, err := NewHTTPClient(HTTPOptions{BaseURL: "not a url", ZipRoot: "x"}, logger.Discard())
	assert.ErrorIs(t, err, errs.ErrConfig)
	_, err = NewHTTPClient(HTTPOptions{BaseURL: "http://example.com"}, logger.Discard())
	assert.ErrorIs(t, err, errs.ErrConfig)
}

func TestClassify(t *testing.T) {
	for code, want := range map[ResultCode]Outcome{
		CodeSuccess:  Delivered,
		CodeUpToDate: NothingNew,
		CodeNoData:   NothingNew,
	} {
		got, err := Classify(Response{Code: code})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := Classify(Response{Code: "E9999", Message: "auth failed"})
	assert.ErrorIs(t, err, errs.ErrService)
}

func TestReceiveErrorsNeverCarryAppKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewHTTPClient(HTTPOptions{BaseURL: base, AppKey: "SECRET-KEY-123", ZipRoot: t.TempDir(), Timeout: time.Second}, logger.Discard())
	require.NoError(t, err)
	_, err = c.Receive(context.Background(), Request{Code: "100001", From: testDay(t), To: testDay(t)})
	require.ErrorIs(t, err, errs.ErrService)
	assert.NotContains(t, err.Error(), "SECRET-KEY-123")
	assert.NotContains(t, err.Error(), "app_key=")
}

func TestDownloadErrorsNeverCarryAppKey(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/100001/20240307/", func(w http.ResponseWriter, r *http.Request) {
		// Links to a port nothing listens on.
		fmt.Fprint(w, `<a href="http://127.0.0.1:1/AlterD.JUSUKR.20240307.zip">zip</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewHTTPClient(HTTPOptions{BaseURL: srv.URL, AppKey: "SECRET-KEY-123", ZipRoot: t.TempDir(), Timeout: time.Second}, logger.Discard())
	require.NoError(t, err)
	_, err = c.Receive(context.Background(), Request{Code: "100001", From: testDay(t), To: testDay(t)})
	require.ErrorIs(t, err, errs.ErrService)
	assert.NotContains(t, err.Error(), "SECRET-KEY-123")
}
