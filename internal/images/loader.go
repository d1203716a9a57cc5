package images

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var ErrLoad = errors.New("images: load failed")

// Loader fetches and decodes the pixel source behind an image URL.
type Loader interface {
	Load(ctx context.Context, rawURL string) (image.Image, error)
}

type LoaderFunc func(ctx context.Context, rawURL string) (image.Image, error)

func (f LoaderFunc) Load(ctx context.Context, rawURL string) (image.Image, error) {
	return f(ctx, rawURL)
}

// HTTPLoader resolves relative URLs against BaseURL and decodes png, jpeg,
// gif, bmp and webp bodies.
type HTTPLoader struct {
	BaseURL  string
	Client   *http.Client
	MaxBytes int64
}

func NewHTTPLoader(baseURL string) *HTTPLoader {
	return &HTTPLoader{
		BaseURL:  baseURL,
		Client:   &http.Client{Timeout: 30 * time.Second},
		MaxBytes: 20 << 20,
	}
}

func (l *HTTPLoader) resolve(rawURL string) (string, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() || l.BaseURL == "" {
		return ref.String(), nil
	}
	base, err := url.Parse(l.BaseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func (l *HTTPLoader) Load(ctx context.Context, rawURL string) (image.Image, error) {
	target, err := l.resolve(rawURL)
	if err != nil {
		return nil, errors.Wrapf(ErrLoad, "%s: %v", rawURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrLoad, "%s: %v", target, err)
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrLoad, "%s: %v", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrLoad, "%s: %s", target, resp.Status)
	}
	return Decode(io.LimitReader(resp.Body, l.MaxBytes))
}

// Decode reads any registered raster format.
func Decode(r io.Reader) (image.Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(ErrLoad, err.Error())
	}
	if b := img.Bounds(); b.Empty() {
		return nil, errors.Wrap(ErrLoad, fmt.Sprintf("empty %s image", format))
	}
	return img, nil
}
