package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/0xef53/unikcache/internal/pipeline"
	"github.com/0xef53/unikcache/internal/progressbar"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Example:
//
//	images:
//	  - ref: alpine
//	  - ref: debian
//	    filename: debian-unikernel.raw
type manifest struct {
	Images []manifestItem `yaml:"images"`
}

type manifestItem struct {
	Ref      string `yaml:"ref"`
	Filename string `yaml:"filename,omitempty"`
}

func (i manifestItem) String() string {
	if len(i.Filename) > 0 {
		return i.Ref + "/" + i.Filename
	}
	return i.Ref
}

func loadManifest(fname string) ([]manifestItem, error) {
	b, err := os.ReadFile(fname)
	if err != nil {
		return nil, err
	}

	var m manifest

	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	seen := make(map[string]struct{})
	items := make([]manifestItem, 0, len(m.Images))

	for _, item := range m.Images {
		if len(item.Ref) == 0 {
			return nil, fmt.Errorf("manifest: empty image reference")
		}
		if _, ok := seen[item.String()]; ok {
			continue
		}
		seen[item.String()] = struct{}{}
		items = append(items, item)
	}

	return items, nil
}

var cmdRefresh = &cli.Command{
	Name:     "refresh",
	Usage:    "rebuild outdated images (all catalog images by default)",
	HideHelp: true,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "manifest", Aliases: []string{"m"}, Usage: "YAML `file` with the list of images to refresh"},
		&cli.IntFlag{Name: "jobs", Aliases: []string{"j"}, Value: 2, Usage: "number of images refreshed at once"},
		&cli.BoolFlag{Name: "no-progress", Usage: "print results line by line instead of progress bars"},
	},
	Action: func(c *cli.Context) error {
		ctx, cancel := signalContext()
		defer cancel()

		x, err := setup(ctx, c)
		if err != nil {
			return err
		}
		defer x.Close()

		var items []manifestItem

		if fname := c.String("manifest"); len(fname) > 0 {
			if items, err = loadManifest(fname); err != nil {
				return err
			}
		} else {
			for _, ref := range x.Catalog.Refs() {
				items = append(items, manifestItem{Ref: ref})
			}
		}

		if len(items) == 0 {
			return fmt.Errorf("nothing to refresh")
		}

		poller := func(ctx context.Context, update progressbar.UpdateFunc) error {
			return refreshAll(ctx, x, items, c.Int("jobs"), update)
		}

		if c.Bool("no-progress") {
			return poller(ctx, func(name string, p int, status string) {
				if p == progressbar.Failed || p >= progressbar.Completed {
					fmt.Printf("%s: %s\n", name, status)
				}
			})
		}

		// Log lines would break the bars
		if !c.Bool("debug") {
			log.SetLevel(log.ErrorLevel)
		}

		names := make([]string, 0, len(items))
		for _, item := range items {
			names = append(names, item.String())
		}

		pb := progressbar.NewProgressBar(poller, names...)

		pb.Show()

		return pb.Err()
	},
}

func refreshAll(ctx context.Context, x *components, items []manifestItem, jobs int, update progressbar.UpdateFunc) error {
	if jobs < 1 {
		jobs = 1
	}

	// Bars are updated from several goroutines
	var mu sync.Mutex

	safeUpdate := func(name string, p int, status string) {
		mu.Lock()
		defer mu.Unlock()

		update(name, p, status)
	}

	for _, item := range items {
		safeUpdate(item.String(), progressbar.Waiting, "")
	}

	var group errgroup.Group
	var failed int

	group.SetLimit(jobs)

	for _, item := range items {
		group.Go(func() error {
			safeUpdate(item.String(), 50, "refreshing")

			outcome, err := x.Orchestrator.Refresh(ctx, item.Ref, item.Filename)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()

				safeUpdate(item.String(), progressbar.Failed, "failed: "+err.Error())

				return nil
			}

			if outcome == pipeline.OutcomeFailed {
				safeUpdate(item.String(), progressbar.Failed, "failed, kept current")
			} else {
				safeUpdate(item.String(), progressbar.Completed, outcome.String())
			}

			return nil
		})
	}

	group.Wait()

	if failed > 0 {
		return fmt.Errorf("%d of %d images failed to refresh", failed, len(items))
	}

	return nil
}
