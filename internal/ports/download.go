package ports

import (
	"context"
	"io"
)

// Downloader streams the resource at a URL into w.
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) error
}
