package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 5
)

// Compile-time check that Driver implements driver.Driver
var _ driver.Driver = (*Driver)(nil)

// Options configures the client.
type Options struct {
	// URL is the gateway base URL, e.g. "http://localhost:8080"
	URL   string
	Token string

	// Timeout bounds every HTTP request and the realtime handshake
	Timeout time.Duration

	HTTPClient  *http.Client
	Dialer      *websocket.Dialer
	Logger      *slog.Logger
	MaxAttempts int
}

// Driver talks to a gateway.
type Driver struct {
	base        string
	wsURL       string
	token       string
	timeout     time.Duration
	http        *http.Client
	dialer      *websocket.Dialer
	logger      *slog.Logger
	maxAttempts int
	closed      atomic.Bool

	mu     sync.Mutex
	stream *stream
}

// New creates a client. No connection is made until the first call.
func New(opts Options) (*Driver, error) {
	u, err := url.Parse(strings.TrimRight(opts.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid gateway url %q: scheme must be http or https", opts.URL)
	}
	ws.Path += realtimePath

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Driver{
		base:        u.String(),
		wsURL:       ws.String(),
		token:       opts.Token,
		timeout:     opts.Timeout,
		http:        opts.HTTPClient,
		dialer:      opts.Dialer,
		logger:      opts.Logger,
		maxAttempts: opts.MaxAttempts,
	}, nil
}

func (d *Driver) checkOpen(ctx context.Context) error {
	if d.closed.Load() {
		return model.ErrClosed
	}
	return ctx.Err()
}

// do sends a JSON request and decodes the JSON response into out.
func (d *Driver) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr APIError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return decodeError(resp.StatusCode, apiErr)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (d *Driver) query(ctx context.Context, op string, req model.Request) ([]*driver.RawDoc, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, model.WrapDriverError(op, err)
	}
	var resp QueryResponse
	if err := d.do(ctx, http.MethodPost, queryPath, QueryRequest{Request: req}, &resp); err != nil {
		return nil, model.WrapDriverError(op, err)
	}
	if resp.Documents == nil {
		resp.Documents = []*driver.RawDoc{}
	}
	return resp.Documents, nil
}

// FetchOne returns the document or nil.
func (d *Driver) FetchOne(ctx context.Context, ref model.Ref) (*driver.RawDoc, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, model.WrapDriverError("fetch", err)
	}
	var doc driver.RawDoc
	err := d.do(ctx, http.MethodGet, documentPrefix+ref.String(), nil, &doc)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, model.WrapDriverError("fetch", err)
	}
	return &doc, nil
}

// FetchMany returns one entry per id, nil for missing documents.
func (d *Driver) FetchMany(ctx context.Context, collection string, ids []string) ([]*driver.RawDoc, error) {
	if len(ids) == 0 {
		if err := d.checkOpen(ctx); err != nil {
			return nil, model.WrapDriverError("fetch many", err)
		}
		return []*driver.RawDoc{}, nil
	}
	docs, err := d.query(ctx, "fetch many", model.Request{Kind: model.KindMany, Scope: model.CollectionScope(collection), IDs: ids})
	if err != nil {
		return nil, err
	}
	if len(docs) != len(ids) {
		return nil, model.WrapDriverError("fetch many", fmt.Errorf("gateway returned %d documents for %d ids", len(docs), len(ids)))
	}
	return docs, nil
}

// FetchAll returns every document in scope.
func (d *Driver) FetchAll(ctx context.Context, scope model.Scope) ([]*driver.RawDoc, error) {
	return d.query(ctx, "fetch all", model.Request{Kind: model.KindAll, Scope: scope})
}

// FetchQuery runs a query on the gateway.
func (d *Driver) FetchQuery(ctx context.Context, scope model.Scope, nodes []model.QueryNode) ([]*driver.RawDoc, error) {
	return d.query(ctx, "query", model.Request{Kind: model.KindQuery, Scope: scope, Queries: nodes})
}

// Count returns the number of documents the query returns.
func (d *Driver) Count(ctx context.Context, scope model.Scope, nodes []model.QueryNode) (int, error) {
	if err := d.checkOpen(ctx); err != nil {
		return 0, model.WrapDriverError("count", err)
	}
	var resp CountResponse
	req := QueryRequest{Request: model.Request{Kind: model.KindQuery, Scope: scope, Queries: nodes}}
	if err := d.do(ctx, http.MethodPost, countPath, req, &resp); err != nil {
		return 0, model.WrapDriverError("count", err)
	}
	return resp.Count, nil
}

// Write applies ops atomically on the gateway.
func (d *Driver) Write(ctx context.Context, ops ...model.WriteOp) error {
	if err := d.checkOpen(ctx); err != nil {
		return model.WrapDriverError("write", err)
	}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return model.WrapDriverError("write", err)
		}
	}
	if len(ops) == 0 {
		return nil
	}
	return model.WrapDriverError("write", d.do(ctx, http.MethodPost, writePath, WriteRequest{Ops: ops}, nil))
}

// Subscribe registers req on the realtime connection, dialing it first when
// needed. Results arrive as full snapshots.
func (d *Driver) Subscribe(req model.Request, onNext func([]*driver.RawDoc), onError func(error)) (driver.Unsubscribe, error) {
	switch req.Kind {
	case model.KindGet, model.KindMany, model.KindAll, model.KindQuery:
	default:
		return nil, model.WrapDriverError("subscribe", fmt.Errorf("%s requests: %w", req.Kind, model.ErrUnsupported))
	}
	if d.closed.Load() {
		return nil, model.WrapDriverError("subscribe", model.ErrClosed)
	}
	s, err := d.realtime()
	if err != nil {
		return nil, model.WrapDriverError("subscribe", err)
	}
	unsubscribe, err := s.subscribe(req, onNext, onError)
	if err != nil {
		return nil, model.WrapDriverError("subscribe", err)
	}
	return unsubscribe, nil
}

// realtime returns the live connection, redialing a lost one.
func (d *Driver) realtime() (*stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil && !d.stream.isDone() {
		return d.stream, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	s, err := dial(ctx, d.dialer, d.wsURL, d.token, d.logger)
	if err != nil {
		return nil, err
	}
	d.stream = s
	return s, nil
}

// Close drops the realtime connection. Later calls fail with model.ErrClosed.
func (d *Driver) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	d.mu.Lock()
	s := d.stream
	d.stream = nil
	d.mu.Unlock()
	d.http.CloseIdleConnections()
	if s != nil {
		return s.close()
	}
	return nil
}
