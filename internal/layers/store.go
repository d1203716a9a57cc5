package layers

import (
	"image"
	"image/color"
	"sync"

	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
)

var ErrSizeMismatch = errors.New("layers: pixel buffer size mismatch")

// Store holds one offscreen RGBA buffer per author, all sized to the viewport.
type Store struct {
	width  int
	height int
	layers map[string]*image.RGBA
	order  []string
	mu     sync.RWMutex
}

func NewStore(width, height int) *Store {
	return &Store{
		width:  width,
		height: height,
		layers: make(map[string]*image.RGBA),
	}
}

func (s *Store) Size() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// GetOrCreate returns the author's layer, creating a transparent one on first use.
func (s *Store) GetOrCreate(author string) *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(author)
}

func (s *Store) getOrCreate(author string) *image.RGBA {
	if l, ok := s.layers[author]; ok {
		return l
	}
	l := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	s.layers[author] = l
	s.order = append(s.order, author)
	return l
}

func (s *Store) Get(author string) (*image.RGBA, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[author]
	return l, ok
}

// Authors lists layer owners in creation order.
func (s *Store) Authors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Layers returns the buffers in paint order with first placed before the rest.
func (s *Store) Layers(first string) []*image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*image.RGBA, 0, len(s.order))
	if l, ok := s.layers[first]; ok {
		out = append(out, l)
	}
	for _, author := range s.order {
		if author == first {
			continue
		}
		out = append(out, s.layers[author])
	}
	return out
}

// ResizeAll reallocates every layer, keeping old content anchored at the
// top-left without rescaling.
func (s *Store) ResizeAll(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if width == s.width && height == s.height {
		return
	}
	s.width, s.height = width, height
	for author, old := range s.layers {
		next := image.NewRGBA(image.Rect(0, 0, width, height))
		xdraw.Draw(next, old.Bounds(), old, image.Point{}, xdraw.Src)
		s.layers[author] = next
	}
}

func (s *Store) Clear(author string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.layers[author]; ok {
		wipe(l)
	}
}

func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.layers {
		wipe(l)
	}
}

// Replace overwrites the author's layer with src, scaling it to the current
// viewport when the sender's viewport differed.
func (s *Store) Replace(author string, src image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.getOrCreate(author)
	wipe(l)
	if src.Bounds().Dx() == s.width && src.Bounds().Dy() == s.height {
		xdraw.Draw(l, l.Bounds(), src, src.Bounds().Min, xdraw.Src)
		return
	}
	xdraw.ApproxBiLinear.Scale(l, l.Bounds(), src, src.Bounds(), xdraw.Src, nil)
}

// Pixels copies the author's raw RGBA bytes.
func (s *Store) Pixels(author string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[author]
	if !ok {
		return make([]byte, 4*s.width*s.height)
	}
	out := make([]byte, len(l.Pix))
	copy(out, l.Pix)
	return out
}

// SetPixels restores raw RGBA bytes captured by Pixels at the current size.
func (s *Store) SetPixels(author string, pix []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.getOrCreate(author)
	if len(pix) != len(l.Pix) {
		return errors.Wrapf(ErrSizeMismatch, "have %d bytes, layer needs %d", len(pix), len(l.Pix))
	}
	copy(l.Pix, pix)
	return nil
}

// Snapshot returns an independent copy of the author's layer.
func (s *Store) Snapshot(author string) *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	if l, ok := s.layers[author]; ok {
		copy(out.Pix, l.Pix)
	}
	return out
}

func wipe(l *image.RGBA) {
	xdraw.Draw(l, l.Bounds(), image.NewUniform(color.Transparent), image.Point{}, xdraw.Src)
}
