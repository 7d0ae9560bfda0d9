// Package ollama is the streaming transport for an Ollama inference server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	kerrors "github.com/vinayprograms/ollamakit/errors"
	"github.com/vinayprograms/ollamakit/eventloop"
	"github.com/vinayprograms/ollamakit/installable"
	"github.com/vinayprograms/ollamakit/internal/jsoncodec"
	"github.com/vinayprograms/ollamakit/logging"
)

const (
	// DefaultAddress is where a local Ollama server listens.
	DefaultAddress = "http://localhost:11434"

	// DefaultTimeout bounds connecting and waiting for response headers.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 4 << 10
)

var (
	// ErrNotRunning is returned when the client is used while not installed.
	ErrNotRunning = errors.New("ollama: client is not installed")

	// ErrAlreadyRunning is returned when an installed client is installed again.
	ErrAlreadyRunning = errors.New("ollama: client is already installed")
)

// Client talks to Ollama's native API. Its HTTP client lives only while the
// Client is installed on a runtime (see installable); install it before
// streaming and close the installation to release its connections.
type Client struct {
	timeout   time.Duration
	transport http.RoundTripper
	logger    *logging.Logger

	mu   sync.RWMutex
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the connect and response-header timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates an uninstalled Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		timeout: DefaultTimeout,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("ollama")
	return c
}

// Install opens the HTTP client, signals ready and holds it open until told
// to stop. It implements installable.Resource.
func (c *Client) Install(ctx context.Context, ready installable.ReadyFunc) error {
	hc := c.newHTTPClient()

	c.mu.Lock()
	if c.http != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.http = hc
	c.mu.Unlock()
	c.logger.Lifecycle("client_open", nil)

	defer func() {
		c.mu.Lock()
		c.http = nil
		c.mu.Unlock()
		hc.CloseIdleConnections()
		c.logger.Lifecycle("client_closed", nil)
	}()

	return eventloop.Await(ctx, ready())
}

func (c *Client) newHTTPClient() *http.Client {
	if c.transport != nil {
		return &http.Client{Transport: c.transport}
	}
	dialer := &net.Dialer{Timeout: c.timeout}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   c.timeout,
			ResponseHeaderTimeout: c.timeout,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

func (c *Client) httpClient() (*http.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.http == nil {
		return nil, ErrNotRunning
	}
	return c.http, nil
}

// StreamChat posts req to /api/chat and feeds every response record to h.
// Blocking reads release the loop when called from a unit of work.
//
// Failures are classified: unreachable server (kerrors.ErrCodeConnect),
// failure status (kerrors.ErrCodeHTTPStatus), error record in the stream
// (kerrors.ErrCodeStream). Cancellation returns the context's error as is.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, h Handler) error {
	hc, err := c.httpClient()
	if err != nil {
		return err
	}
	address := NormalizeAddress(req.Address)

	body, err := jsoncodec.Marshal(chatPayload{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	})
	if err != nil {
		return kerrors.WrapWithCode(err, kerrors.ErrCodeInvalidInput, "encoding chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, address+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return kerrors.WrapWithCode(err, kerrors.ErrCodeInvalidInput, "building chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	c.logger.RequestStart(address, req.Model, len(req.Messages))

	var resp *http.Response
	err = eventloop.Suspend(ctx, func() error {
		var doErr error
		resp, doErr = hc.Do(httpReq)
		return doErr
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return classifyTransport(ctx, address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return readStatusError(ctx, resp)
	}

	h.OnConnect()

	reader := bufio.NewReader(resp.Body)
	for {
		var line []byte
		readErr := eventloop.Suspend(ctx, func() error {
			var err error
			line, err = reader.ReadBytes('\n')
			return err
		})
		// Records already buffered are dropped once the exchange is cancelled.
		if err := ctx.Err(); err != nil {
			return err
		}

		if line = bytes.TrimSpace(line); len(line) > 0 {
			var rec StreamRecord
			if err := jsoncodec.Unmarshal(line, &rec); err != nil {
				return kerrors.WrapWithCode(err, kerrors.ErrCodeDecode, "decoding stream record",
					kerrors.WithMetadata("line", string(line)))
			}
			if rec.Kind() == RecordError {
				return kerrors.Stream(rec.Error)
			}
			if err := h.OnRecord(rec); err != nil {
				return err
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return classifyTransport(ctx, address, readErr)
		}
	}
}

// ListModels returns the names of the models available on the server.
func (c *Client) ListModels(ctx context.Context, address string) ([]string, error) {
	models, err := c.Models(ctx, address)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Models returns the models available on the server.
func (c *Client) Models(ctx context.Context, address string) ([]ModelInfo, error) {
	hc, err := c.httpClient()
	if err != nil {
		return nil, err
	}
	address = NormalizeAddress(address)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, address+"/api/tags", nil)
	if err != nil {
		return nil, kerrors.WrapWithCode(err, kerrors.ErrCodeInvalidInput, "building tags request")
	}

	var tags tagsResponse
	err = eventloop.Suspend(ctx, func() error {
		resp, err := hc.Do(httpReq)
		if err != nil {
			return classifyTransport(ctx, address, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			return statusError(resp)
		}
		if err := jsoncodec.Decode(resp.Body, &tags); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return kerrors.WrapWithCode(err, kerrors.ErrCodeDecode, "decoding model list")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags.Models, nil
}

// NormalizeAddress trims trailing slashes and falls back to DefaultAddress.
func NormalizeAddress(address string) string {
	address = strings.TrimRight(strings.TrimSpace(address), "/")
	if address == "" {
		return DefaultAddress
	}
	return address
}

// classifyTransport maps an error from the HTTP client onto the taxonomy.
func classifyTransport(ctx context.Context, address string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return kerrors.Connect(address, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return kerrors.Connect(address, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return kerrors.WrapWithCode(err, kerrors.ErrCodeTimeout, "waiting for "+address)
	}
	return kerrors.WrapWithCode(err, kerrors.ErrCodeNetwork, "talking to "+address)
}

// readStatusError reads the diagnostic body of a failed reply without
// holding the loop.
func readStatusError(ctx context.Context, resp *http.Response) error {
	var err error
	_ = eventloop.Suspend(ctx, func() error {
		err = statusError(resp)
		return nil
	})
	return err
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	detail := strings.TrimSpace(string(raw))
	var eb errorBody
	if jsoncodec.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		detail = eb.Error
	}

	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return kerrors.HTTPStatus(resp.StatusCode, reason, detail)
}

// String describes the client for logs.
func (c *Client) String() string {
	_, err := c.httpClient()
	return fmt.Sprintf("ollama.Client(installed=%t)", err == nil)
}
