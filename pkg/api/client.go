package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mahaj/groupchat/pkg/model"
	"github.com/mahaj/groupchat/pkg/snowflake"
)

const requestIDHeader = "X-Request-Id"

// StatusError is returned when the backend answers with a non-2xx status.
// Message holds the backend's {"error": ...} text when it sent one.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s failed: %s", e.Op, http.StatusText(e.Code))
}

// Client talks to the chat backend's REST endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	ids     *snowflake.Node
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithIDs(n *snowflake.Node) Option {
	return func(c *Client) { c.ids = n }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.ids == nil {
		c.ids = snowflake.NodeFor(baseURL)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// FetchMessages loads the message history.
func (c *Client) FetchMessages(ctx context.Context) ([]model.Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/messages", nil)
	if err != nil {
		return nil, err
	}
	var msgs []model.Message
	if err := c.do(req, "load messages", &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// Upload posts r as the multipart field "file" and returns the stored URL.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", errors.Wrap(err, "create form file")
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", errors.Wrap(err, "read upload")
	}
	if err := mw.Close(); err != nil {
		return "", errors.Wrap(err, "close multipart")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out model.UploadResponse
	if err := c.do(req, "upload", &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", errors.New("upload failed: no url in response")
	}
	return out.URL, nil
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, "delete", nil)
}

// RegisterToken stores the push token for email on the backend.
func (c *Client) RegisterToken(ctx context.Context, email, token string) error {
	b, err := json.Marshal(model.TokenRegistration{Email: email, Token: token})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/token", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "register token", nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set(requestIDHeader, c.ids.String())
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, op)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("request_id", req.Header.Get(requestIDHeader)).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Op: op, Code: resp.StatusCode}
		var body model.UploadResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
			se.Message = body.Error
		}
		return se
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "%s: decode response", op)
	}
	return nil
}
