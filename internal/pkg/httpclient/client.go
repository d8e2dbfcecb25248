package httpclient

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client wraps resty for requests to the CRM, ad platform and LLM APIs.
// Retries are handled by the retry package, so resty's own retry loop stays off.
type Client struct {
	r *resty.Client
}

// New creates a new HTTP client rooted at baseURL.
func New(baseURL string) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{r: r}
}

// WithTimeout sets a custom timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.r.SetTimeout(d)
	return c
}

// WithBearerToken sets a bearer token for authentication.
func (c *Client) WithBearerToken(token string) *Client {
	c.r.SetAuthToken(token)
	return c
}

// WithHeader sets a custom header.
func (c *Client) WithHeader(key, value string) *Client {
	c.r.SetHeader(key, value)
	return c
}

// WithQueryParam adds a query parameter to every request.
func (c *Client) WithQueryParam(key, value string) *Client {
	c.r.SetQueryParam(key, value)
	return c
}

// Request returns a new resty Request bound to ctx.
func (c *Client) Request(ctx context.Context) *resty.Request {
	return c.r.R().SetContext(ctx)
}

// JSON returns a request bound to ctx with a JSON body.
func (c *Client) JSON(ctx context.Context, body interface{}) *resty.Request {
	req := c.Request(ctx).SetHeader("Content-Type", "application/json")
	if body != nil {
		req.SetBody(body)
	}
	return req
}
