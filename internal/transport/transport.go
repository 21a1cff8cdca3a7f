package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"time"

	"skylane/internal/msglog"
)

// ErrMissingScope is returned before any network activity when a request
// names no scope. A request without a scope is a programming error, not a
// condition to retry.
var ErrMissingScope = errors.New("transport: request has no scope")

// ServiceUnavailableError means the remote host could not be reached at all.
type ServiceUnavailableError struct {
	URL string
	Err error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("transport: %s unreachable: %v", e.URL, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

// RequestError is any other transport-level failure.
type RequestError struct {
	URL string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("transport: request to %s failed: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Response is the raw answer from the remote. Status interpretation belongs
// to the caller; the transport only decides auth and reachability.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// TokenSource supplies and refreshes bearer tokens per audience/scope pair.
type TokenSource interface {
	GetToken(ctx context.Context, audience, scope string) (string, error)
	RefreshToken(ctx context.Context, audience, scope string) error
}

// Client sends scoped, bearer-authenticated requests to one audience. On a
// 401 or 403 it refreshes the token and retries exactly once; the second
// answer stands whatever it is. Every exchange is appended to the message
// log, including failed ones.
type Client struct {
	Audience string
	Tokens   TokenSource
	HTTP     *http.Client
	Log      *msglog.Writer
}

func New(audience string, tokens TokenSource, logw *msglog.Writer) *Client {
	return &Client{
		Audience: audience,
		Tokens:   tokens,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		Log:      logw,
	}
}

// Do sends one JSON request under the given scope. body may be nil.
func (c *Client) Do(ctx context.Context, method, rawURL, scope string, body any) (*Response, error) {
	if scope == "" {
		return nil, ErrMissingScope
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("transport: marshal body: %w", err)
		}
	}
	c.record(ctx, msglog.Entry{
		Direction: msglog.DirOutgoingRequest,
		Method:    method,
		URL:       rawURL,
		Audience:  c.Audience,
		Scope:     scope,
		Body:      string(payload),
	})

	resp, err := c.send(ctx, method, rawURL, scope, payload)
	if err == nil && (resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden) {
		if rerr := c.Tokens.RefreshToken(ctx, c.Audience, scope); rerr != nil {
			return nil, rerr
		}
		resp, err = c.send(ctx, method, rawURL, scope, payload)
	}
	if err != nil {
		c.record(ctx, msglog.Entry{
			Direction: msglog.DirIncomingResponse,
			Method:    method,
			URL:       rawURL,
			Audience:  c.Audience,
			Scope:     scope,
			Note:      err.Error(),
		})
		return nil, err
	}
	c.record(ctx, msglog.Entry{
		Direction: msglog.DirIncomingResponse,
		Method:    method,
		URL:       rawURL,
		Audience:  c.Audience,
		Scope:     scope,
		Status:    resp.Status,
		Body:      string(resp.Body),
	})
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, rawURL, scope string, payload []byte) (*Response, error) {
	token, err := c.Tokens.GetToken(ctx, c.Audience, scope)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, &RequestError{URL: rawURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(rawURL, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{URL: rawURL, Err: err}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// classify separates host-unreachable failures from everything else.
func classify(rawURL string, err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		var operr *net.OpError
		if errors.As(uerr.Err, &operr) || uerr.Timeout() {
			return &ServiceUnavailableError{URL: rawURL, Err: err}
		}
		var dnserr *net.DNSError
		if errors.As(uerr.Err, &dnserr) {
			return &ServiceUnavailableError{URL: rawURL, Err: err}
		}
	}
	return &RequestError{URL: rawURL, Err: err}
}

func (c *Client) record(ctx context.Context, e msglog.Entry) {
	if c.Log == nil {
		return
	}
	if err := c.Log.Append(ctx, e); err != nil {
		log.Printf("msglog: append failed: %v", err)
	}
}
