package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/metinweb/ors-payment-service/infra/codec"
	"github.com/metinweb/ors-payment-service/payerr"
)

// HTTPClientConfig configures an adapter's HTTP client.
type HTTPClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// InsecureSkipVerify relaxes TLS verification for acquirer sandboxes
	// and the handful of legacy production endpoints with broken chains.
	InsecureSkipVerify bool
	DefaultHeaders     map[string]string
}

// HTTPRequest is a request to an acquirer endpoint. Exactly one of Body or
// Form is used depending on the Send variant.
type HTTPRequest struct {
	Method      string
	Endpoint    string
	Headers     map[string]string
	Body        any // string, []byte, or a JSON-marshalable value
	Form        *codec.FormValues
	QueryParams map[string]string
}

// HTTPResponse is the acquirer's reply.
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSONMap decodes the response body as a JSON object.
func (r *HTTPResponse) JSONMap() (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(r.Body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HTTPClient wraps the shared request plumbing acquirer adapters use.
type HTTPClient struct {
	config *HTTPClientConfig
	client *http.Client
}

// NewHTTPClient builds a client from config. The zero timeout defaults to
// thirty seconds; bank provisioning endpoints routinely take that long.
func NewHTTPClient(config *HTTPClientConfig) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: config.InsecureSkipVerify},
	}
	return &HTTPClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout, Transport: transport},
	}
}

// SendJSON marshals req.Body as JSON and posts it.
func (c *HTTPClient) SendJSON(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	return c.send(ctx, req, "application/json")
}

// SendForm posts req.Form urlencoded, preserving field order. Several
// acquirers hash over the raw body, so encoding order matters.
func (c *HTTPClient) SendForm(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	return c.send(ctx, req, "application/x-www-form-urlencoded")
}

// SendXML posts req.Body as an XML document.
func (c *HTTPClient) SendXML(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	return c.send(ctx, req, "text/xml; charset=utf-8")
}

// SendRaw posts req.Body without setting a content type.
func (c *HTTPClient) SendRaw(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	return c.send(ctx, req, "")
}

func (c *HTTPClient) send(ctx context.Context, req *HTTPRequest, contentType string) (*HTTPResponse, error) {
	fullURL := c.buildURL(req.Endpoint, req.QueryParams)

	var body io.Reader
	switch {
	case contentType == "application/x-www-form-urlencoded" && req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
	case contentType == "application/json" && req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON body: %w", err)
		}
		body = bytes.NewReader(data)
	case req.Body != nil:
		switch raw := req.Body.(type) {
		case string:
			body = strings.NewReader(raw)
		case []byte:
			body = bytes.NewReader(raw)
		default:
			return nil, fmt.Errorf("unsupported body type %T", req.Body)
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	for key, value := range c.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindNetwork, "acquirer request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindNetwork, "failed to read acquirer response", err)
	}

	response := &HTTPResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: respBody}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return response, payerr.Newf(payerr.KindNetwork, "acquirer returned HTTP %d", resp.StatusCode)
	}
	return response, nil
}

func (c *HTTPClient) buildURL(endpoint string, queryParams map[string]string) string {
	fullURL := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		fullURL = joinURL(c.config.BaseURL, endpoint)
	}
	if len(queryParams) == 0 {
		return fullURL
	}
	u, err := url.Parse(fullURL)
	if err != nil {
		return fullURL
	}
	q := u.Query()
	for key, value := range queryParams {
		q.Set(key, value)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func joinURL(base, endpoint string) string {
	switch {
	case strings.HasSuffix(base, "/") && strings.HasPrefix(endpoint, "/"):
		return base + endpoint[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(endpoint, "/"):
		return base + "/" + endpoint
	}
	return base + endpoint
}
