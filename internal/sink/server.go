package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/coffersTech/nanolog/spool/internal/logging"
	"github.com/coffersTech/nanolog/spool/internal/model"
)

// maxBodyBytes caps a single ingest request body, both as received and
// after zstd decoding.
const maxBodyBytes = 32 << 20

// Options configures a Server.
type Options struct {
	// APIKeys accepted as bearer tokens. Empty disables authentication.
	APIKeys []string
	// Cost is the bcrypt cost used to hash APIKeys. Zero means default.
	Cost int
	// Keep is how many recent entries are kept for inspection.
	Keep   int
	Logger *zap.Logger
}

// Server is a minimal log sink accepting spool batches. It is used for
// local development and as the far end in shipper tests.
type Server struct {
	keyHashes [][]byte
	keep      int
	logger    *zap.Logger
	parser    fastjson.ParserPool
	decoder   *zstd.Decoder

	mu       sync.RWMutex
	recent   []model.LogEntry
	received atomic.Int64

	instances *Instances
}

// NewServer hashes the API keys and prepares the decoder.
func NewServer(opts Options) (*Server, error) {
	if opts.Cost == 0 {
		opts.Cost = bcrypt.DefaultCost
	}
	if opts.Keep <= 0 {
		opts.Keep = 1000
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	s := &Server{
		keep:      opts.Keep,
		logger:    logging.OrNop(opts.Logger).Named("sink"),
		decoder:   dec,
		instances: NewInstances(),
	}
	for _, key := range opts.APIKeys {
		hash, err := bcrypt.GenerateFromPassword([]byte(key), opts.Cost)
		if err != nil {
			return nil, fmt.Errorf("hash api key: %w", err)
		}
		s.keyHashes = append(s.keyHashes, hash)
	}
	return s, nil
}

// Handler returns the HTTP routes of the sink.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/ingest", s.AuthMiddleware(http.HandlerFunc(s.HandleIngest)))
	mux.Handle("/api/received", s.AuthMiddleware(http.HandlerFunc(s.handleReceived)))
	mux.Handle("/api/instances", s.AuthMiddleware(http.HandlerFunc(s.handleInstances)))
	return mux
}

// Instances returns the tracker of agents that shipped to this sink.
func (s *Server) Instances() *Instances {
	return s.instances
}

// Received returns the number of entries accepted since start.
func (s *Server) Received() int64 {
	return s.received.Load()
}

// Recent returns a copy of the most recently accepted entries.
func (s *Server) Recent() []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LogEntry, len(s.recent))
	copy(out, s.recent)
	return out
}

// Close releases the decoder.
func (s *Server) Close() {
	s.decoder.Close()
}

// AuthMiddleware checks the bearer token against the hashed API keys.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.keyHashes) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			w.Header().Set("WWW-Authenticate", `Bearer realm="NanoLog"`)
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}

		for _, hash := range s.keyHashes {
			if bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Bearer realm="NanoLog"`)
		http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
	})
}

// HandleIngest accepts a JSON array of entries, or a single entry.
// POST /api/ingest
func (s *Server) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if r.Header.Get("Content-Encoding") == "zstd" {
		body, err = s.decoder.DecodeAll(body, nil)
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
			http.Error(w, "Decoded body too large", http.StatusRequestEntityTooLarge)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid zstd body: %v", err), http.StatusBadRequest)
			return
		}
	}

	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	var batch []model.LogEntry
	if v.Type() == fastjson.TypeArray {
		arr, _ := v.Array()
		batch = make([]model.LogEntry, 0, len(arr))
		for _, val := range arr {
			batch = append(batch, parseEntry(val))
		}
	} else {
		batch = append(batch, parseEntry(v))
	}

	s.store(batch)
	var service string
	if len(batch) > 0 {
		service = batch[len(batch)-1].Label
	}
	s.instances.Observe(r.Header.Get("X-Instance-ID"), service, r.RemoteAddr, len(batch))
	s.logger.Debug("batch accepted",
		zap.Int("records", len(batch)),
		zap.String("instance_id", r.Header.Get("X-Instance-ID")),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"accepted": len(batch)})
}

// handleReceived returns the recent entries.
// GET /api/received
func (s *Server) handleReceived(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Recent())
}

// handleInstances lists the agents seen so far.
// GET /api/instances
func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.instances.List())
}

func (s *Server) store(batch []model.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append(s.recent, batch...)
	if over := len(s.recent) - s.keep; over > 0 {
		s.recent = append(s.recent[:0:0], s.recent[over:]...)
	}
	s.received.Add(int64(len(batch)))
}

// parseEntry maps one JSON object onto a LogEntry. Missing fields stay
// zero; "msg" and a nanosecond "timestamp" are accepted as fallbacks.
func parseEntry(val *fastjson.Value) model.LogEntry {
	e := model.LogEntry{
		Label:    string(val.GetStringBytes("label")),
		File:     string(val.GetStringBytes("file")),
		Line:     val.GetInt("line"),
		Source:   string(val.GetStringBytes("source")),
		Function: string(val.GetStringBytes("function")),
		Level:    strings.ToUpper(string(val.GetStringBytes("level"))),
		Message:  string(val.GetStringBytes("message")),
	}
	if e.Message == "" {
		e.Message = string(val.GetStringBytes("msg"))
	}
	if e.Level == "" {
		e.Level = model.LevelInfo
	}

	if ts, err := time.Parse(time.RFC3339Nano, string(val.GetStringBytes("loggedAt"))); err == nil {
		e.LoggedAt = ts
	} else if nanos := val.GetInt64("timestamp"); nanos != 0 {
		e.LoggedAt = time.Unix(0, nanos).UTC()
	} else {
		e.LoggedAt = time.Now().UTC()
	}

	if md := val.GetObject("metadata"); md != nil {
		e.Metadata = model.Metadata{}
		md.Visit(func(key []byte, v *fastjson.Value) {
			e.Metadata[string(key)] = toAny(v)
		})
	}
	return e
}

// toAny converts a parsed value into the metadata tree shape.
func toAny(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeArray:
		arr, _ := v.Array()
		list := make([]any, len(arr))
		for i, el := range arr {
			list[i] = toAny(el)
		}
		return list
	case fastjson.TypeObject:
		obj, _ := v.Object()
		m := make(map[string]any, obj.Len())
		obj.Visit(func(key []byte, el *fastjson.Value) {
			m[string(key)] = toAny(el)
		})
		return m
	case fastjson.TypeNull:
		return nil
	default:
		// numbers and booleans keep their literal text
		return string(v.MarshalTo(nil))
	}
}
