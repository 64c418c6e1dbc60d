package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/spool/internal/logging"
	"github.com/coffersTech/nanolog/spool/internal/model"
)

// IngestPath is the sink endpoint batches are posted to.
const IngestPath = "/api/ingest"

// BatchShipper sends one drained batch to the remote sink.
type BatchShipper interface {
	Ship(ctx context.Context, batch []model.LogEntry) error
}

// Options configures an HTTPShipper.
type Options struct {
	ServerURL  string
	APIKey     string
	InstanceID string
	// Compress sends zstd bodies with Content-Encoding: zstd.
	Compress bool
	Timeout  time.Duration
	Logger   *zap.Logger
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sink returned HTTP %d: %s", e.Code, e.Body)
}

// HTTPShipper posts batches as a JSON array to <ServerURL>/api/ingest.
type HTTPShipper struct {
	opts    Options
	url     string
	client  *http.Client
	encoder *zstd.Encoder
	logger  *zap.Logger
}

// NewHTTPShipper creates a shipper for opts.
func NewHTTPShipper(opts Options) (*HTTPShipper, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	s := &HTTPShipper{
		opts:   opts,
		url:    strings.TrimRight(opts.ServerURL, "/") + IngestPath,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logging.OrNop(opts.Logger).Named("shipper"),
	}

	if opts.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		s.encoder = enc
	}
	return s, nil
}

// Ship sends batch. Metadata values that cannot be encoded are sent as
// null and logged; they never hold back the rest of the batch.
// Client errors other than 408 and 429 are permanent.
func (s *HTTPShipper) Ship(ctx context.Context, batch []model.LogEntry) error {
	if len(batch) == 0 {
		return nil
	}

	wire := make([]model.LogEntry, len(batch))
	var invalid []string
	for i, e := range batch {
		n, bad := e.Normalized("[" + strconv.Itoa(i) + "].metadata")
		for _, el := range bad {
			invalid = append(invalid, el.Path)
		}
		wire[i] = n
	}
	if len(invalid) > 0 {
		s.logger.Warn("shipping batch with unencodable metadata replaced by null",
			zap.Strings("invalid_paths", invalid),
		)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal batch: %w", err))
	}
	if s.encoder != nil {
		body = s.encoder.EncodeAll(body, make([]byte, 0, len(body)/2))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.encoder != nil {
		req.Header.Set("Content-Encoding", "zstd")
	}
	if s.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.APIKey)
	}
	if s.opts.InstanceID != "" {
		req.Header.Set("X-Instance-ID", s.opts.InstanceID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(statusErr)
	}
	return statusErr
}

// Close releases the compression encoder.
func (s *HTTPShipper) Close() error {
	if s.encoder != nil {
		return s.encoder.Close()
	}
	return nil
}
