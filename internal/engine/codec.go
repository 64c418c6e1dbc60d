package engine

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/nanolog/spool/internal/model"
)

// Codec converts a batch of records to and from the snapshot format.
type Codec[T any] interface {
	Encode(records []T) ([]byte, error)
	Decode(data []byte) ([]T, error)
}

// PrepareFunc maps a record to the value that is actually marshaled.
// index is the record's position in the batch and is used to root the
// paths of any invalid elements.
type PrepareFunc[T any] func(index int, record T) (any, []model.InvalidElement)

// JSONCodec encodes a batch as a pretty-printed JSON array.
type JSONCodec[T any] struct {
	// Prepare is optional. When nil records are marshaled as-is.
	Prepare PrepareFunc[T]
	parser  fastjson.ParserPool
}

// Encode marshals records into an indented JSON array. All invalid
// elements across the batch are collected before failing.
func (c *JSONCodec[T]) Encode(records []T) ([]byte, error) {
	wire := make([]any, len(records))
	var invalid []model.InvalidElement

	for i, r := range records {
		if c.Prepare == nil {
			wire[i] = r
			continue
		}
		v, bad := c.Prepare(i, r)
		invalid = append(invalid, bad...)
		wire[i] = v
	}

	if len(invalid) > 0 {
		return nil, &EncodingError{Invalid: invalid}
	}

	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	return data, nil
}

// Decode parses a snapshot. The document must be an array of objects;
// any record that fails to decode fails the whole snapshot.
func (c *JSONCodec[T]) Decode(data []byte) ([]T, error) {
	p := c.parser.Get()
	defer c.parser.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, &DecodingError{Index: -1, Err: err}
	}

	arr, err := v.Array()
	if err != nil {
		return nil, &DecodingError{Index: -1, Err: err}
	}

	records := make([]T, 0, len(arr))
	var buf []byte
	for i, el := range arr {
		if el.Type() != fastjson.TypeObject {
			return nil, &DecodingError{Index: i, Err: errors.New("expected object, got " + el.Type().String())}
		}
		buf = el.MarshalTo(buf[:0])

		var r T
		if err := json.Unmarshal(buf, &r); err != nil {
			return nil, &DecodingError{Index: i, Err: err}
		}
		records = append(records, r)
	}
	return records, nil
}

// NewEntryCodec returns the codec for model.LogEntry. Metadata trees are
// normalized before marshaling so the encode step cannot fail on them.
func NewEntryCodec() *JSONCodec[model.LogEntry] {
	return &JSONCodec[model.LogEntry]{Prepare: prepareEntry}
}

func prepareEntry(index int, e model.LogEntry) (any, []model.InvalidElement) {
	return e.Normalized("[" + strconv.Itoa(index) + "].metadata")
}
