package httpstages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dcshock/hookpipe/hook"
	"github.com/dcshock/hookpipe/pipeline"
)

// ErrNoPayload is returned when no *Payload was passed to the run.
var ErrNoPayload = errors.New("httpstages: no *Payload argument")

// Payload carries a request and its decoded response between steps.
type Payload struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
	// Value is set by ParseJSON and ParseJSONTo.
	Value interface{}
}

func payloadOf(args []interface{}) (*Payload, error) {
	p, ok := pipeline.Arg[*Payload](args)
	if !ok || p == nil {
		return nil, ErrNoPayload
	}
	return p, nil
}

// Get returns an action that performs an HTTP GET to the fixed url and stores
// the response in the payload. The step context is used for the request
// (timeout and cancellation). If client is nil, http.DefaultClient is used.
func Get(client *http.Client, url string) hook.Callback {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, args ...interface{}) error {
		p, err := payloadOf(args)
		if err != nil {
			return err
		}
		p.URL = url
		return get(ctx, client, p)
	}
}

// Fetch returns an action that performs an HTTP GET to payload.URL and stores
// the response in the payload. If client is nil, http.DefaultClient is used.
func Fetch(client *http.Client) hook.Callback {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, args ...interface{}) error {
		p, err := payloadOf(args)
		if err != nil {
			return err
		}
		if p.URL == "" {
			return fmt.Errorf("http fetch: payload has no URL")
		}
		return get(ctx, client, p)
	}
}

func get(ctx context.Context, client *http.Client, p *Payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("http get: new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("http get %q: %w", p.URL, err)
		}
		return pipeline.RetryableErr(fmt.Errorf("http get %q: %w", p.URL, err))
	}
	defer resp.Body.Close()
	p.Status = resp.StatusCode
	p.Header = resp.Header
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("http get %q: read body: %w", p.URL, err)
	}
	p.Body = body
	switch {
	case resp.StatusCode >= 500:
		return pipeline.RetryableErr(fmt.Errorf("http get %q: status %d", p.URL, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("http get %q: status %d", p.URL, resp.StatusCode)
	}
	return nil
}
