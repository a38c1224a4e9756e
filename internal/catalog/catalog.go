// Package catalog is a file-backed image catalog that maps image references
// to the git repositories their unikernels are built from.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/0xef53/unikcache/unikernel"

	"gopkg.in/yaml.v3"
)

// Example:
//
//	images:
//	  alpine:
//	    id: alpine-unikernel
//	    repository: https://github.com/example/alpine-unikernel.git
type catalogFile struct {
	Images map[string]*Entry `yaml:"images"`
}

type Entry struct {
	ID         string `yaml:"id"`
	Repository string `yaml:"repository"`
}

type Catalog struct {
	entries map[string]*Entry
}

// Load reads and validates the catalog file.
func Load(fname string) (*Catalog, error) {
	b, err := os.ReadFile(fname)
	if err != nil {
		return nil, err
	}

	return Parse(b)
}

func Parse(b []byte) (*Catalog, error) {
	var f catalogFile

	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	for ref, e := range f.Images {
		if e == nil || len(e.Repository) == 0 {
			return nil, fmt.Errorf("catalog: %s: empty repository", ref)
		}
		if len(e.ID) == 0 {
			e.ID = ref
		}
	}

	return &Catalog{entries: f.Images}, nil
}

// Resolve returns the repository URL and the image ID for the reference.
// The reference may be either a catalog key or an image ID.
func (c *Catalog) Resolve(ctx context.Context, ref string) (*unikernel.CatalogImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e, ok := c.entries[ref]
	if !ok {
		for _, v := range c.entries {
			if v.ID == ref {
				e = v
				break
			}
		}
	}

	if e == nil {
		return nil, fmt.Errorf("%w: image %q", unikernel.ErrNotFound, ref)
	}

	return &unikernel.CatalogImage{Name: e.Repository, ID: e.ID}, nil
}

// Refs returns the sorted list of known references.
func (c *Catalog) Refs() []string {
	refs := make([]string, 0, len(c.entries))

	for ref := range c.entries {
		refs = append(refs, ref)
	}

	sort.Strings(refs)

	return refs
}
