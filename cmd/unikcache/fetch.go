package main

import (
	"fmt"

	"github.com/0xef53/unikcache/internal/fetcher"
	"github.com/0xef53/unikcache/unikernel"

	cli "github.com/urfave/cli/v2"
)

var cmdFetch = &cli.Command{
	Name:     "fetch",
	Usage:    "provide an image in the cache, building it from sources if needed",
	HideHelp: true,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "ref", Required: true, Usage: "image reference from the catalog"},
		&cli.StringFlag{Name: "filename", Usage: "cache file `name` (SHA-1 of the image ID by default)"},
		&cli.StringFlag{Name: "user", Usage: "owner user ID"},
		&cli.StringFlag{Name: "project", Usage: "owner project ID"},
		&cli.Int64Flag{Name: "size", Usage: "image size in `bytes`"},
		&cli.StringFlag{Name: "fallback", Usage: "download the image from this `URL` (http, https or a local file) if it is still absent"},
	},
	Action: func(c *cli.Context) error {
		ctx, cancel := signalContext()
		defer cancel()

		x, err := setup(ctx, c)
		if err != nil {
			return err
		}
		defer x.Close()

		req := unikernel.ProvisionRequest{
			ImageRef:  c.String("ref"),
			Filename:  c.String("filename"),
			UserID:    c.String("user"),
			ProjectID: c.String("project"),
			Size:      c.Int64("size"),
		}

		if src := c.String("fallback"); len(src) > 0 {
			if req.Fetch, err = fetcher.New(src); err != nil {
				return err
			}
		}

		if err := x.Orchestrator.ProvideImage(ctx, &req); err != nil {
			return err
		}

		filename := req.Filename
		if len(filename) == 0 {
			img, err := x.Catalog.Resolve(ctx, req.ImageRef)
			if err != nil {
				filename = unikernel.CacheFilename(req.ImageRef)
			} else {
				filename = unikernel.CacheFilename(img.ID)
			}
		}

		fmt.Println(x.Orchestrator.CachePath(filename))

		return nil
	},
}
