package netx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrTooLarge is returned by Download when the body exceeds the limit.
var ErrTooLarge = errors.New("response body exceeds limit")

// StatusError carries a non-2xx response status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %d; body: %s", e.Op, e.Status, e.Body)
}

func clientOrDefault(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}

// UploadToPresignedURL PUTs data to a presigned object URL.
func UploadToPresignedURL(ctx context.Context, c *http.Client, url, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := clientOrDefault(c).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Op: "upload", Status: resp.StatusCode, Body: string(b)}
	}
	return nil
}

// Download GETs url with the given headers and returns at most maxBytes of
// body along with the response Content-Type. maxBytes <= 0 means no limit.
func Download(ctx context.Context, c *http.Client, url string, header http.Header, maxBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := clientOrDefault(c).Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", &StatusError{Op: "download", Status: resp.StatusCode, Body: string(b)}
	}

	var r io.Reader = resp.Body
	if maxBytes > 0 {
		r = io.LimitReader(resp.Body, maxBytes+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	if maxBytes > 0 && int64(len(b)) > maxBytes {
		return nil, "", ErrTooLarge
	}
	return b, resp.Header.Get("Content-Type"), nil
}
