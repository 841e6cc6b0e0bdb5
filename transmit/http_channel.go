package transmit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/sourcegraph/conc/pool"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/logger"
	"github.com/honeycombio/beacon/types"
)

// Responses larger than this are truncated; the only thing read from them is
// a partial-success summary.
const maxResponseBody = 1 << 20

// Instantiating a new encoder is expensive, so use a global one.
// EncodeAll() is concurrency-safe.
var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(
		nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(2)),
		// zstd allocates 2 * GOMAXPROCS * window size, so use a small window.
		zstd.WithWindowSize(1<<16),
	)
	if err != nil {
		panic(err)
	}
}

// poster does the actual POST for every channel.
type poster struct {
	client        *http.Client
	url           string
	ikey          string
	userAgent     string
	compression   string
	lineDelimited bool
	timeout       time.Duration
}

func newPoster(c config.Config, client *http.Client, version string) *poster {
	tc := c.GetTransmitConfig()
	if client == nil {
		client = http.DefaultClient
	}
	if version == "" {
		version = "dev"
	}
	return &poster{
		client:        client,
		url:           tc.EndpointURL,
		ikey:          c.GetInstrumentationKey(),
		userAgent:     fmt.Sprintf("beacon/%s %s (%s/%s)", version, strings.Replace(runtime.Version(), "go", "go/", 1), runtime.GOOS, runtime.GOARCH),
		compression:   tc.Compression,
		lineDelimited: tc.EmitLineDelimitedJSON,
		timeout:       time.Duration(tc.RequestTimeout),
	}
}

func (p *poster) encode(payload []byte) ([]byte, error) {
	switch p.compression {
	case "gzip":
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "zstd":
		return zstdEncoder.EncodeAll(payload, make([]byte, 0, len(payload)/2)), nil
	default:
		return payload, nil
	}
}

func (p *poster) post(payload []byte) Response {
	body, err := p.encode(payload)
	if err != nil {
		return Response{Err: fmt.Errorf("compressing payload: %w", err)}
	}

	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Response{Err: fmt.Errorf("creating request: %w", err)}
	}
	if p.lineDelimited {
		req.Header.Set("Content-Type", "application/x-json-stream")
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.compression == "gzip" || p.compression == "zstd" {
		req.Header.Set("Content-Encoding", p.compression)
	}
	req.Header.Set(types.InstrumentationKeyHeader, p.ikey)
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return Response{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp)
	if err != nil {
		return Response{Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	return Response{Status: resp.StatusCode, Body: respBody}
}

// readBody returns the response body as JSON. Endpoints that answer in
// msgpack are converted so the partial-success parser sees one format.
func readBody(resp *http.Response) ([]byte, error) {
	r := io.LimitReader(resp.Body, maxResponseBody)
	if resp.Header.Get("Content-Type") != "application/msgpack" {
		return io.ReadAll(r)
	}

	var decoded map[string]any
	if err := msgpack.NewDecoder(r).Decode(&decoded); err != nil {
		return nil, err
	}
	return json.Marshal(decoded)
}

var _ ResultChannel = (*HTTPChannel)(nil)

// HTTPChannel is the standard request/response channel.
type HTTPChannel struct {
	Config  config.Config `inject:""`
	Logger  logger.Logger `inject:""`
	Client  *http.Client  `inject:"upstreamClient"`
	Version string        `inject:"version"`

	poster *poster
	// unbounded: done callbacks take the transmitter lock, so a bounded pool
	// could block a flush behind its own callbacks
	pool *pool.Pool
}

func (h *HTTPChannel) Start() error {
	h.poster = newPoster(h.Config, h.Client, h.Version)
	h.pool = pool.New()
	h.Logger.Debug().WithString("endpoint", h.poster.url).Logf("starting http channel")
	return nil
}

func (h *HTTPChannel) Send(payload []byte, done func(Response)) {
	h.pool.Go(func() {
		resp := h.poster.post(payload)
		if resp.Err != nil {
			h.Logger.Debug().WithField("error", resp.Err.Error()).Logf("http channel request failed")
		}
		done(resp)
	})
}

// Stop waits for requests in flight.
func (h *HTTPChannel) Stop() error {
	if h.pool != nil {
		h.pool.Wait()
	}
	return nil
}
