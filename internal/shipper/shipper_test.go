package shipper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/coffersTech/nanolog/spool/internal/model"
	"github.com/coffersTech/nanolog/spool/internal/sink"
)

func testEntries(n int) []model.LogEntry {
	out := make([]model.LogEntry, n)
	for i := range out {
		out[i] = model.LogEntry{
			Label:    "svc",
			Level:    model.LevelInfo,
			Message:  "m",
			Line:     i,
			LoggedAt: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
			Metadata: model.Metadata{"i": i},
		}
	}
	return out
}

func startSink(t *testing.T, keys ...string) (*sink.Server, *httptest.Server) {
	t.Helper()
	s, err := sink.NewServer(sink.Options{APIKeys: keys, Cost: bcrypt.MinCost})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func TestHTTPShipper_ShipsToSink(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			s, ts := startSink(t, "sk-test")
			sh, err := NewHTTPShipper(Options{
				ServerURL:  ts.URL + "/",
				APIKey:     "sk-test",
				InstanceID: "inst-1",
				Compress:   compress,
			})
			require.NoError(t, err)
			defer sh.Close()

			require.NoError(t, sh.Ship(context.Background(), testEntries(3)))
			require.EqualValues(t, 3, s.Received())

			got := s.Recent()
			require.Equal(t, 2, got[2].Line)
			require.Equal(t, model.Metadata{"i": "2"}, got[2].Metadata)
		})
	}
}

func TestHTTPShipper_Headers(t *testing.T) {
	var header http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		_, _ = io.Copy(io.Discard, r.Body)
	}))
	defer ts.Close()

	sh, err := NewHTTPShipper(Options{ServerURL: ts.URL, APIKey: "k", InstanceID: "inst", Compress: true})
	require.NoError(t, err)
	require.NoError(t, sh.Ship(context.Background(), testEntries(1)))

	require.Equal(t, "Bearer k", header.Get("Authorization"))
	require.Equal(t, "inst", header.Get("X-Instance-ID"))
	require.Equal(t, "zstd", header.Get("Content-Encoding"))
	require.Equal(t, "application/json", header.Get("Content-Type"))
}

func TestHTTPShipper_InvalidMetadataShipsAsNull(t *testing.T) {
	s, ts := startSink(t)
	sh, err := NewHTTPShipper(Options{ServerURL: ts.URL})
	require.NoError(t, err)

	batch := testEntries(2)
	batch[1].Metadata = model.Metadata{"fn": func() {}, "ok": "yes"}
	require.NoError(t, sh.Ship(context.Background(), batch))

	got := s.Recent()
	require.Len(t, got, 2)
	require.Equal(t, model.Metadata{"fn": nil, "ok": "yes"}, got[1].Metadata)
}

func TestHTTPShipper_CyclicMetadataShipsAsNull(t *testing.T) {
	s, ts := startSink(t)
	sh, err := NewHTTPShipper(Options{ServerURL: ts.URL})
	require.NoError(t, err)

	md := model.Metadata{"ok": "yes"}
	md["self"] = map[string]any(md)
	batch := testEntries(1)
	batch[0].Metadata = md
	require.NoError(t, sh.Ship(context.Background(), batch))

	require.Equal(t, model.Metadata{"ok": "yes", "self": nil}, s.Recent()[0].Metadata)
}

func TestHTTPShipper_StatusErrors(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusUnauthorized)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", int(code.Load()))
	}))
	defer ts.Close()

	sh, err := NewHTTPShipper(Options{ServerURL: ts.URL})
	require.NoError(t, err)

	err = sh.Ship(context.Background(), testEntries(1))
	var perm *backoff.PermanentError
	require.ErrorAs(t, err, &perm)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.Code)
	require.Equal(t, "nope", statusErr.Body)

	code.Store(http.StatusServiceUnavailable)
	err = sh.Ship(context.Background(), testEntries(1))
	require.False(t, errors.As(err, &perm))
	require.ErrorAs(t, err, &statusErr)
}

func TestHTTPShipper_EmptyBatch(t *testing.T) {
	sh, err := NewHTTPShipper(Options{ServerURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	require.NoError(t, sh.Ship(context.Background(), nil))
}

func TestEnsureInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nanolog")

	first := EnsureInstanceID(dir)
	_, err := uuid.Parse(first)
	require.NoError(t, err)
	require.Equal(t, first, EnsureInstanceID(dir))

	require.NotEqual(t, EnsureInstanceID(""), EnsureInstanceID(""))
}
