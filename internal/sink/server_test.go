package sink

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/coffersTech/nanolog/spool/internal/model"
)

func newTestServer(t *testing.T, keys ...string) *Server {
	t.Helper()
	s, err := NewServer(Options{APIKeys: keys, Cost: bcrypt.MinCost, Keep: 3})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func post(h http.Handler, body, token string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_IngestBatch(t *testing.T) {
	s := newTestServer(t)

	body := `[
		{"label":"svc","file":"a.go","line":7,"source":"example.com/app","function":"main.run",
		 "level":"warn","message":"hi","loggedAt":"2026-10-19T08:00:00.5Z",
		 "metadata":{"user":{"id":"u1","n":5},"tags":["a",null,true]}},
		{"msg":"legacy","timestamp":1000}
	]`
	w := post(s.Handler(), body, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp["accepted"])
	require.EqualValues(t, 2, s.Received())

	got := s.Recent()
	require.Equal(t, model.LogEntry{
		Label:    "svc",
		File:     "a.go",
		Line:     7,
		Source:   "example.com/app",
		Function: "main.run",
		Level:    "WARN",
		Message:  "hi",
		LoggedAt: time.Date(2026, 10, 19, 8, 0, 0, 500000000, time.UTC),
		Metadata: model.Metadata{
			"user": map[string]any{"id": "u1", "n": "5"},
			"tags": []any{"a", nil, "true"},
		},
	}, got[0])
	require.Equal(t, "legacy", got[1].Message)
	require.Equal(t, model.LevelInfo, got[1].Level)
	require.Equal(t, time.Unix(0, 1000).UTC(), got[1].LoggedAt)
}

func TestServer_IngestSingleObject(t *testing.T) {
	s := newTestServer(t)
	w := post(s.Handler(), `{"message":"one"}`, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, s.Received())
}

func TestServer_IngestZstd(t *testing.T) {
	s := newTestServer(t)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	body := enc.EncodeAll([]byte(`[{"message":"packed"}]`), nil)
	require.NoError(t, enc.Close())

	w := post(s.Handler(), string(body), "", map[string]string{"Content-Encoding": "zstd"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "packed", s.Recent()[0].Message)
}

func TestServer_RejectsOversizedZstd(t *testing.T) {
	s := newTestServer(t)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	payload := bytes.Repeat([]byte{' '}, maxBodyBytes+1)
	compressed := enc.EncodeAll(payload, nil)
	require.NoError(t, enc.Close())
	require.Less(t, len(compressed), maxBodyBytes)

	w := post(s.Handler(), string(compressed), "", map[string]string{"Content-Encoding": "zstd"})
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Zero(t, s.Received())
}

func TestServer_RejectsBadJSON(t *testing.T) {
	s := newTestServer(t)
	w := post(s.Handler(), `[{"message":`, "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Zero(t, s.Received())
}

func TestServer_Auth(t *testing.T) {
	s := newTestServer(t, "sk-good")
	h := s.Handler()

	require.Equal(t, http.StatusUnauthorized, post(h, `[]`, "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, post(h, `[]`, "sk-bad", nil).Code)
	require.Equal(t, http.StatusOK, post(h, `[]`, "sk-good", nil).Code)
}

func TestServer_KeepsMostRecent(t *testing.T) {
	s := newTestServer(t)
	for _, m := range []string{"1", "2", "3", "4", "5"} {
		post(s.Handler(), `{"message":"`+m+`"}`, "", nil)
	}

	got := s.Recent()
	require.Len(t, got, 3)
	require.Equal(t, "3", got[0].Message)
	require.Equal(t, "5", got[2].Message)
	require.EqualValues(t, 5, s.Received())
}

func TestServer_Received(t *testing.T) {
	s := newTestServer(t)
	post(s.Handler(), `{"message":"x"}`, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/received", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got []model.LogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
}

func TestServer_TracksInstances(t *testing.T) {
	s := newTestServer(t)
	post(s.Handler(), `[{"label":"api","message":"a"},{"label":"api","message":"b"}]`, "", map[string]string{"X-Instance-ID": "inst-1"})
	post(s.Handler(), `{"label":"api","message":"c"}`, "", map[string]string{"X-Instance-ID": "inst-1"})
	post(s.Handler(), `{"message":"anonymous"}`, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/instances", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got []Instance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "inst-1", got[0].InstanceID)
	require.Equal(t, "api", got[0].Service)
	require.EqualValues(t, 2, got[0].Batches)
	require.EqualValues(t, 3, got[0].Records)
}
