package layers

import (
	"image/color"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Background is the board fill; the eraser paints with it.
var Background = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

var ErrBadColor = errors.New("layers: unrecognised colour")

// ParseColor accepts #rgb, #rrggbb, #rrggbbaa and rgba(r,g,b,a) forms and
// returns a premultiplied colour.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case strings.HasPrefix(s, "#"):
		return parseHex(s[1:])
	case strings.HasPrefix(s, "rgba(") && strings.HasSuffix(s, ")"):
		return parseFunc(s[5:len(s)-1], true)
	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		return parseFunc(s[4:len(s)-1], false)
	}
	return color.RGBA{}, errors.Wrapf(ErrBadColor, "%q", s)
}

// MustParseColor is ParseColor for compile-time constants.
func MustParseColor(s string) color.RGBA {
	c, err := ParseColor(s)
	if err != nil {
		panic(err)
	}
	return c
}

func parseHex(h string) (color.RGBA, error) {
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return color.RGBA{}, errors.Wrapf(ErrBadColor, "#%s", h)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, errors.Wrapf(ErrBadColor, "#%s", h)
	}
	return premultiply(uint8(v>>24), uint8(v>>16), uint8(v>>8), uint8(v)), nil
}

func parseFunc(body string, hasAlpha bool) (color.RGBA, error) {
	parts := strings.Split(body, ",")
	want := 3
	if hasAlpha {
		want = 4
	}
	if len(parts) != want {
		return color.RGBA{}, errors.Wrapf(ErrBadColor, "%q", body)
	}
	var ch [3]uint8
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || n < 0 || n > 255 {
			return color.RGBA{}, errors.Wrapf(ErrBadColor, "%q", body)
		}
		ch[i] = uint8(n)
	}
	alpha := uint8(0xff)
	if hasAlpha {
		a, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || a < 0 || a > 1 {
			return color.RGBA{}, errors.Wrapf(ErrBadColor, "%q", body)
		}
		alpha = uint8(a*255 + 0.5)
	}
	return premultiply(ch[0], ch[1], ch[2], alpha), nil
}

func premultiply(r, g, b, a uint8) color.RGBA {
	return color.RGBA{
		R: uint8(uint32(r) * uint32(a) / 0xff),
		G: uint8(uint32(g) * uint32(a) / 0xff),
		B: uint8(uint32(b) * uint32(a) / 0xff),
		A: a,
	}
}
