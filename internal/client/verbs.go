package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

func applyRequestOptions(options []RequestOption) requestOptions {
	opts := requestOptions{cacheTTL: cacheTTLUnset}
	for _, option := range options {
		option(&opts)
	}
	return opts
}

// encodeBody turns a caller-supplied body into bytes for the wire. nil
// means no body at all, which the server treats differently from an empty
// JSON object. []byte passes through untouched.
func encodeBody(body any) ([]byte, bool, error) {
	switch b := body.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return b, false, nil
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, false, fmt.Errorf("failed to encode request body: %w", err)
		}
		return encoded, true, nil
	}
}

func executeTyped[T any](ctx context.Context, c *Client, desc requestDescriptor) (T, error) {
	payload, err := c.execute(ctx, desc)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](payload)
}

func Get[T any](ctx context.Context, c *Client, path string, options ...RequestOption) (T, error) {
	return executeTyped[T](ctx, c, requestDescriptor{
		method:  http.MethodGet,
		path:    path,
		options: applyRequestOptions(options),
	})
}

func Post[T any](ctx context.Context, c *Client, path string, body any, options ...RequestOption) (T, error) {
	return bodyVerb[T](ctx, c, http.MethodPost, path, body, options)
}

func Put[T any](ctx context.Context, c *Client, path string, body any, options ...RequestOption) (T, error) {
	return bodyVerb[T](ctx, c, http.MethodPut, path, body, options)
}

func Delete[T any](ctx context.Context, c *Client, path string, body any, options ...RequestOption) (T, error) {
	return bodyVerb[T](ctx, c, http.MethodDelete, path, body, options)
}

func bodyVerb[T any](ctx context.Context, c *Client, method, path string, body any, options []RequestOption) (T, error) {
	encoded, jsonBody, err := encodeBody(body)
	if err != nil {
		var zero T
		return zero, err
	}

	return executeTyped[T](ctx, c, requestDescriptor{
		method:   method,
		path:     path,
		body:     encoded,
		jsonBody: jsonBody,
		options:  applyRequestOptions(options),
	})
}
