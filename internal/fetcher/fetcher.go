// Package fetcher provides fallback download functions for the image cache.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/0xef53/unikcache/unikernel"
)

// New returns a function that fetches the image from urlstr.
// Supported sources are http(s) URLs and local files (plain paths
// or file:// URLs).
func New(urlstr string) (unikernel.FetchFunc, error) {
	u, err := url.Parse(urlstr)
	if err != nil {
		return nil, err
	}

	if len(u.Path) == 0 {
		return nil, fmt.Errorf("no path to the image file specified")
	}

	switch u.Scheme {
	case "http", "https":
		return func(ctx context.Context, target string) error {
			return download(ctx, u.String(), target)
		}, nil
	case "file", "":
		return func(ctx context.Context, target string) error {
			return copyFile(ctx, u.Path, target)
		}, nil
	}

	return nil, fmt.Errorf("unknown URL scheme: %s", u.Scheme)
}

func download(ctx context.Context, urlstr, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlstr, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch error: http code = %s", resp.Status)
	}

	return writeFile(target, resp.Body)
}

func copyFile(ctx context.Context, src, target string) error {
	fd, err := os.Open(src)
	if err != nil {
		return err
	}
	defer fd.Close()

	if err := writeFile(target, fd); err != nil {
		return err
	}

	return ctx.Err()
}

func writeFile(target string, r io.Reader) error {
	fd, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer fd.Close()

	if _, err := io.Copy(fd, r); err != nil {
		return err
	}

	if err := fd.Sync(); err != nil {
		return err
	}

	return fd.Close()
}
