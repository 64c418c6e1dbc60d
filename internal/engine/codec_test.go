package engine

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coffersTech/nanolog/spool/internal/model"
)

func TestEntryCodec_Shape(t *testing.T) {
	e := model.LogEntry{
		Label:    "checkout",
		File:     "/src/app/cart.go",
		Line:     17,
		Source:   "example.com/app",
		Function: "app.(*Cart).Add",
		Level:    model.LevelWarn,
		Message:  "cart full",
		LoggedAt: time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC),
		Metadata: model.Metadata{"count": 3, "tags": []string{"a", "b"}},
	}

	data, err := NewEntryCodec().Encode([]model.LogEntry{e})
	require.NoError(t, err)
	// Pretty-printed.
	require.True(t, strings.HasPrefix(string(data), "[\n  {"))

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	require.Equal(t, map[string]any{
		"label":    "checkout",
		"file":     "/src/app/cart.go",
		"line":     float64(17),
		"source":   "example.com/app",
		"function": "app.(*Cart).Add",
		"level":    "WARN",
		"message":  "cart full",
		"loggedAt": "2026-10-19T08:30:00Z",
		"metadata": map[string]any{
			"count": "3",
			"tags":  []any{"a", "b"},
		},
	}, raw[0])
}

func TestEntryCodec_NilMetadataIsObject(t *testing.T) {
	data, err := NewEntryCodec().Encode([]model.LogEntry{{Message: "x"}})
	require.NoError(t, err)
	require.Contains(t, string(data), `"metadata": {}`)
}

func TestEntryCodec_CollectsAllInvalidPaths(t *testing.T) {
	records := []model.LogEntry{
		{Metadata: model.Metadata{"ok": "fine"}},
		{Metadata: model.Metadata{"ch": make(chan int)}},
		{Metadata: model.Metadata{"list": []any{"a", math.NaN()}, "z": complex(1, 2)}},
	}

	_, err := NewEntryCodec().Encode(records)
	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	require.Equal(t, []string{
		"[1].metadata.ch",
		"[2].metadata.list[1]",
		"[2].metadata.z",
	}, encErr.Paths())
}

func TestJSONCodec_DecodeRejectsNonArray(t *testing.T) {
	_, err := NewEntryCodec().Decode([]byte(`{"label":"x"}`))
	var decErr *DecodingError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, -1, decErr.Index)
}

func TestJSONCodec_DecodeRejectsNonObjectElement(t *testing.T) {
	_, err := NewEntryCodec().Decode([]byte(`[{"label":"x"}, 42]`))
	var decErr *DecodingError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, 1, decErr.Index)
}

func TestJSONCodec_DecodeEmptyArray(t *testing.T) {
	got, err := NewEntryCodec().Decode([]byte(`[]`))
	require.NoError(t, err)
	require.Empty(t, got)
}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestJSONCodec_GenericRecord(t *testing.T) {
	c := &JSONCodec[point]{}
	data, err := c.Encode([]point{{1, 2}, {3, 4}})
	require.NoError(t, err)

	got, err := c.Decode(data)
	require.NoError(t, err)
	require.Equal(t, []point{{1, 2}, {3, 4}}, got)
}
