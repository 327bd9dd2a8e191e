// Package linisco talks to the Linisco point-of-sale HTTP API.
//
// The API is token-per-session: each shop signs in with its own account and
// gets an authentication token, then pulls resources (sale orders, sold
// products, POS sessions) for a date range with email+token headers.
package linisco

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"possync/internal/credential"
	"possync/internal/metrics"
	"possync/internal/schema"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://pos.linisco.com.ar"

// maxBodyBytes caps response reads. Daily extracts are a few MB at most; the
// cap only guards against a misbehaving endpoint streaming forever.
const maxBodyBytes = 256 << 20

// DateRange is an inclusive extraction window in the API's native dd/mm/yyyy
// form. Values are passed through to the query string untouched.
type DateRange struct {
	From string
	To   string
}

// AuthError reports a failed sign-in. Status is the HTTP status the API
// returned (0 for transport failures).
type AuthError struct {
	Email  string
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sign in %s: unexpected status %d", e.Email, e.Status)
	}
	return fmt.Sprintf("sign in %s: %v", e.Email, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError reports a failed resource extraction.
type FetchError struct {
	Resource string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.Resource, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client is a Linisco API client. The zero value is not usable; construct
// with New.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
	debug   bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Tests use it to point
// at httptest servers with short timeouts.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger installs a logger. Without it the client is silent.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithDebug enables request/response detail logging. Secrets are never
// logged even in debug mode.
func WithDebug(debug bool) Option {
	return func(c *Client) { c.debug = debug }
}

// New builds a client for the given base URL. An empty baseURL selects the
// production endpoint.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
		log:     zap.NewNop(),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignIn authenticates one shop and returns its session token.
//
// The request body depends on the credential variant: a structured credential
// is forwarded byte-for-byte as configured, a bare credential is wrapped as
// {"email": ..., "password": ...}. The API signals success with 201 Created.
func (c *Client) SignIn(ctx context.Context, email string, cred credential.Credential) (string, error) {
	var body []byte
	switch cred.Kind() {
	case credential.Structured:
		body = []byte(cred.RawPayload())
		if c.debug {
			c.log.Debug("sign in with structured payload",
				zap.String("email", email),
				zap.Strings("payload_keys", cred.PayloadKeys()))
		}
	default:
		b, err := json.Marshal(map[string]string{"email": email, "password": cred.Secret()})
		if err != nil {
			return "", &AuthError{Email: email, Err: err}
		}
		body = b
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/sign_in", bytes.NewReader(body))
	if err != nil {
		return "", &AuthError{Email: email, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, respBody, err := c.do(req, "sign_in")
	if err != nil {
		return "", &AuthError{Email: email, Err: err}
	}
	if status != http.StatusCreated {
		return "", &AuthError{Email: email, Status: status}
	}

	var out struct {
		AuthenticationToken string `json:"authentication_token"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", &AuthError{Email: email, Err: fmt.Errorf("decode sign-in response: %w", err)}
	}
	if out.AuthenticationToken == "" {
		return "", &AuthError{Email: email, Err: fmt.Errorf("sign-in response carries no authentication_token")}
	}

	return out.AuthenticationToken, nil
}

// Fetch pulls one resource for the date range, authenticated as email/token.
// A 200 with an empty or null body yields an empty, non-nil slice.
func (c *Client) Fetch(ctx context.Context, res schema.Resource, email, token string, dr DateRange) ([]schema.Record, error) {
	u, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(res.Path, "/"))
	if err != nil {
		return nil, &FetchError{Resource: res.Kind, Err: err}
	}
	q := u.Query()
	q.Set("fromDate", dr.From)
	q.Set("toDate", dr.To)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Resource: res.Kind, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Email", email)
	req.Header.Set("X-User-Token", token)

	status, body, err := c.do(req, res.Kind)
	if err != nil {
		return nil, &FetchError{Resource: res.Kind, Err: err}
	}
	if status != http.StatusOK {
		return nil, &FetchError{Resource: res.Kind, Status: status}
	}

	rows, err := decodeRecords(body)
	if err != nil {
		return nil, &FetchError{Resource: res.Kind, Err: err}
	}

	if c.debug {
		c.log.Debug("fetched resource",
			zap.String("resource", res.Kind),
			zap.String("from", dr.From),
			zap.String("to", dr.To),
			zap.Int("rows", len(rows)))
	}
	return rows, nil
}

// do executes one request, records HTTP metrics under the given endpoint
// label, and returns the status plus the fully read, charset-normalized body.
func (c *Client) do(req *http.Request, endpoint string) (int, []byte, error) {
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordHTTP(endpoint, 0, err, time.Since(start), -1)
		return 0, nil, err
	}
	defer resp.Body.Close()

	reader, err := charsetReader(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		metrics.RecordHTTP(endpoint, resp.StatusCode, err, time.Since(start), -1)
		return resp.StatusCode, nil, err
	}

	body, err := io.ReadAll(reader)
	metrics.RecordHTTP(endpoint, resp.StatusCode, err, time.Since(start), int64(len(body)))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// charsetReader wraps r so the output is UTF-8, honoring the Content-Type
// charset parameter. The vendor API mostly serves UTF-8 but has been seen
// returning ISO-8859-1 for some shops.
func charsetReader(r io.Reader, contentType string) (io.Reader, error) {
	if contentType == "" {
		return r, nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// A malformed Content-Type should not fail the request.
		return r, nil
	}
	name := strings.TrimSpace(params["charset"])
	if name == "" || strings.EqualFold(name, "utf-8") {
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", name, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// decodeRecords parses the response body as a JSON array of objects.
// Numbers stay as json.Number so large order ids survive untouched.
func decodeRecords(body []byte) ([]schema.Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []schema.Record{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var rows []schema.Record
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rows == nil {
		rows = []schema.Record{}
	}
	return rows, nil
}
