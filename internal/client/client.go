// Package client talks to the KePin backend: auth, uploads, listings and the
// streaming analysis endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/b4its/next-kepin/internal/models"
	"github.com/b4its/next-kepin/internal/stream"
)

// SessionCookie is the cookie carrying the backend session.
const SessionCookie = "session_id"

// Client calls the KePin backend over HTTP with cookie credentials.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	session    string
}

type Option func(*Client)

// WithHTTPClient replaces the default client. Its Jar is replaced with a
// fresh cookie jar if nil.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSession seeds the cookie jar with an existing session id.
func WithSession(sessionID string) Option {
	return func(c *Client) { c.session = sessionID }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{baseURL: u, httpClient: &http.Client{Jar: jar}}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		c.httpClient.Jar = jar
	}
	c.SetSession(c.session)
	return c, nil
}

// SessionID returns the current session cookie value, or "".
func (c *Client) SessionID() string {
	if c.httpClient.Jar == nil {
		return ""
	}
	for _, ck := range c.httpClient.Jar.Cookies(c.baseURL) {
		if ck.Name == SessionCookie {
			return ck.Value
		}
	}
	return ""
}

// SetSession stores sessionID as the session cookie.
func (c *Client) SetSession(sessionID string) {
	if sessionID == "" || c.httpClient.Jar == nil {
		return
	}
	c.httpClient.Jar.SetCookies(c.baseURL, []*http.Cookie{{Name: SessionCookie, Value: sessionID, Path: "/"}})
}

// URL resolves a backend path such as an upload's file_path.
func (c *Client) URL(path string) string {
	return c.baseURL.String() + path
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

// Register calls POST /api/v1/auth/register.
func (c *Client) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	var u models.User
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/register",
		models.RegisterRequest{Name: name, Email: email, Password: password}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Login calls POST /api/v1/auth/login; the session cookie lands in the jar.
func (c *Client) Login(ctx context.Context, email, password string) (*models.User, error) {
	var u models.User
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login",
		models.LoginRequest{Email: email, Password: password}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Logout calls POST /api/v1/auth/logout.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
}

// Me calls GET /api/v1/auth/me. It returns ErrUnauthenticated on 401.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/auth/me", nil, &u); err != nil {
		return nil, err
	}
	if u.Avatar == "" {
		u.Avatar = models.DefaultAvatar
	}
	return &u, nil
}

// ---------------------------------------------------------------------------
// Uploads and listings
// ---------------------------------------------------------------------------

// Uploads calls GET /api/v1/uploads.
func (c *Client) Uploads(ctx context.Context, userID string) ([]models.UploadRecord, error) {
	var out []models.UploadRecord
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/uploads?user_id="+url.QueryEscape(userID), nil, &out)
	return out, err
}

// Upload calls POST /api/v1/upload with a multipart body.
func (c *Client) Upload(ctx context.Context, userID, fileName string, r io.Reader) (*models.UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := mw.WriteField("user_id", userID)
		if err == nil {
			var part io.Writer
			if part, err = mw.CreateFormFile("file", fileName); err == nil {
				if _, err = io.Copy(part, r); err == nil {
					err = mw.Close()
				}
			}
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL("/api/v1/upload"), pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out models.UploadResponse
	if err := c.do(req, "/api/v1/upload", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteUpload calls DELETE /api/v1/upload/{id}.
func (c *Client) DeleteUpload(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/upload/"+url.PathEscape(id), nil, nil)
}

// FinancialData calls GET /api/v1/financial-data.
func (c *Client) FinancialData(ctx context.Context, userID string) ([]models.AnalysisResult, error) {
	var out []models.AnalysisResult
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/financial-data?user_id="+url.QueryEscape(userID), nil, &out)
	return out, err
}

// Stats calls GET /api/v1/financial/stats.
func (c *Client) Stats(ctx context.Context, userID string) (*models.Stats, error) {
	var envelope struct {
		Status string       `json:"status"`
		Data   models.Stats `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/financial/stats?user_id="+url.QueryEscape(userID), nil, &envelope); err != nil {
		return nil, err
	}
	if envelope.Status != "" && envelope.Status != "success" {
		return nil, fmt.Errorf("stats: status %q", envelope.Status)
	}
	return &envelope.Data, nil
}

// ---------------------------------------------------------------------------
// Analysis
// ---------------------------------------------------------------------------

// Analyze posts req to the mode's endpoint and returns the open event
// stream. Failures are *stream.TransportError.
func (c *Client) Analyze(ctx context.Context, mode models.Mode, req models.AnalyzeRequest) (io.ReadCloser, error) {
	path := mode.Route()
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), bytes.NewReader(body))
	if err != nil {
		return nil, &stream.TransportError{Op: "analyze", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &stream.TransportError{Op: "analyze", Err: err}
	}
	if err := checkResp(resp, http.MethodPost, path); err != nil {
		resp.Body.Close()
		return nil, &stream.TransportError{Op: "analyze", Status: resp.StatusCode, Err: err}
	}
	return resp.Body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()

	if err := checkResp(resp, req.Method, path); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", req.Method, path, err)
	}
	return nil
}
