// Package transport implements the server client: a thin, fixed-endpoint
// JSON-over-HTTP wrapper the activation core uses to talk to the license
// server. It knows nothing about activations, only about POSTing JSON and
// classifying the response.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	licerrors "licensekit/internal/errors"
)

const (
	connectTimeout = time.Second
	postReadTimeout = 3 * time.Second
	getReadTimeout  = time.Second
)

// Endpoint paths, fixed by the wire contract.
const (
	EndpointActivate          = "/activate"
	EndpointActivateTrial     = "/activate-trial"
	EndpointUpdateActivations = "/update-activations"
	EndpointPing              = "/ping"
)

// Response is a classified server response.
type Response struct {
	StatusCode int
	Body       []byte
}

func (r Response) IsInformational() bool { return r.StatusCode >= 100 && r.StatusCode < 200 }
func (r Response) IsSuccessful() bool    { return r.StatusCode >= 200 && r.StatusCode < 300 }
func (r Response) IsRedirection() bool   { return r.StatusCode >= 300 && r.StatusCode < 400 }
func (r Response) IsClientError() bool   { return r.StatusCode >= 400 && r.StatusCode < 500 }
func (r Response) IsServerError() bool   { return r.StatusCode >= 500 && r.StatusCode < 600 }

// RaiseIfNotSuccessful returns a ServerError-kind error carrying the
// status code and body when the response is not 2xx; nil otherwise.
func (r Response) RaiseIfNotSuccessful() error {
	if r.IsSuccessful() {
		return nil
	}
	return licerrors.Server(r.StatusCode, string(r.Body))
}

// Client is the server client bound to a single base address.
type Client struct {
	baseAddress string
	postClient  *http.Client
	getClient   *http.Client
	limiter     *rate.Limiter
}

// New returns a Client bound to baseAddress (ProductData's primary server
// address). Outbound calls are limited to limiterRate requests per second
// with a burst of limiterBurst, in addition to the fixed per-call
// timeouts; a host that wants no self-throttling can pass rate.Inf.
func New(baseAddress string, limiterRate rate.Limit, limiterBurst int) *Client {
	noRedirects := func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Client{
		baseAddress: baseAddress,
		postClient: &http.Client{
			Timeout:       connectTimeout + postReadTimeout,
			CheckRedirect: noRedirects,
		},
		getClient: &http.Client{
			Timeout:       connectTimeout + getReadTimeout,
			CheckRedirect: noRedirects,
		},
		limiter: rate.NewLimiter(limiterRate, limiterBurst),
	}
}

// Post sends payload as a JSON body to path and returns the classified
// response. A transport failure (no response received at all) is returned
// as a TransportError; a non-2xx response is returned as a successfully
// classified Response, not an error — callers call RaiseIfNotSuccessful
// explicitly, matching the reference behavior of separating "I got a
// response" from "the response was a failure".
func (c *Client) Post(ctx context.Context, path string, payload any) (Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, licerrors.Transport("rate limiter wait was cancelled", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, licerrors.Input("failed to encode request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseAddress+path, bytes.NewReader(body))
	if err != nil {
		return Response{}, licerrors.Transport("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.postClient.Do(req)
	if err != nil {
		return Response{}, licerrors.Transport(fmt.Sprintf("no response from server for %s", path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, licerrors.Transport("failed to read response body", err)
	}

	return Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// Get sends a GET to path, used only for /ping.
func (c *Client) Get(ctx context.Context, path string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseAddress+path, nil)
	if err != nil {
		return Response{}, licerrors.Transport("failed to build request", err)
	}

	resp, err := c.getClient.Do(req)
	if err != nil {
		return Response{}, licerrors.Transport(fmt.Sprintf("no response from server for %s", path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, licerrors.Transport("failed to read response body", err)
	}

	return Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}
