package export

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestWritePDF(t *testing.T) {
	var out bytes.Buffer
	err := WritePDF(&out, "Fractions",
		Page{Caption: "v1", PNG: snapshotPNG(t, 800, 600)},
		Page{Caption: "v2", PNG: snapshotPNG(t, 600, 800)},
	)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out.Bytes(), []byte("%PDF-")))
}

func TestWritePDFRejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, WritePDF(&out, "empty"))
	assert.Error(t, WritePDF(&out, "garbage", Page{PNG: []byte("not a png")}))
}

func TestFitKeepsAspect(t *testing.T) {
	x, y, w, h := fit(200, 100, 100, 100)
	assert.InDelta(t, 100, w, 0.001)
	assert.InDelta(t, 50, h, 0.001)
	assert.InDelta(t, 0, x, 0.001)
	assert.InDelta(t, 25, y, 0.001)
}
