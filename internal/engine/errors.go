package engine

import (
	"fmt"
	"strings"

	"github.com/coffersTech/nanolog/spool/internal/model"
)

// EncodingError reports records that cannot be represented in the
// snapshot format. Invalid lists the offending value paths, if known.
type EncodingError struct {
	Invalid []model.InvalidElement
	Err     error
}

func (e *EncodingError) Error() string {
	if len(e.Invalid) > 0 {
		return fmt.Sprintf("encode snapshot: %d invalid element(s): %s", len(e.Invalid), strings.Join(e.Paths(), ", "))
	}
	return fmt.Sprintf("encode snapshot: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Paths returns the structural paths of the invalid elements.
func (e *EncodingError) Paths() []string {
	paths := make([]string, len(e.Invalid))
	for i, el := range e.Invalid {
		paths[i] = el.Path
	}
	return paths
}

// DecodingError reports a snapshot that is corrupt or does not match
// the record schema.
type DecodingError struct {
	Index int // record index, -1 when the document itself is malformed
	Err   error
}

func (e *DecodingError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("decode snapshot: %v", e.Err)
	}
	return fmt.Sprintf("decode snapshot: record [%d]: %v", e.Index, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }
