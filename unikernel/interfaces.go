package unikernel

import (
	"context"
)

// CatalogImage is what the remote image catalog knows about an image reference.
// Name holds the URL of the source repository.
type CatalogImage struct {
	Name string
	ID   string
}

// ImageCatalog resolves an image reference to its source repository.
type ImageCatalog interface {
	Resolve(ctx context.Context, imageRef string) (*CatalogImage, error)
}

// FetchFunc downloads an image into target. It is the fallback used by
// the generic image cache when the file is still absent.
type FetchFunc func(ctx context.Context, target string) error

type CacheRequest struct {
	Fetch     FetchFunc
	Filename  string
	ImageID   string
	UserID    string
	ProjectID string
	Size      int64
}

// ImageCache is the generic image-cache bookkeeping subsystem.
type ImageCache interface {
	Cache(ctx context.Context, req *CacheRequest) error
}

type ProvisionRequest struct {
	ImageRef  string
	Filename  string
	UserID    string
	ProjectID string
	Size      int64
	Fetch     FetchFunc
}

// ImageProvider resolves or builds the image for a reference into
// the given cache file. It is invoked by the host lifecycle when
// a new machine is being provisioned.
type ImageProvider interface {
	ProvideImage(ctx context.Context, req *ProvisionRequest) error
}
