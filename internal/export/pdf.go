// Package export renders saved board snapshots into a PDF handout.
package export

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/pkg/errors"
)

const (
	pageMargin  = 10.0
	titleHeight = 10.0
)

// Page is one snapshot in the document.
type Page struct {
	Caption string
	PNG     []byte
}

// WritePDF lays out one landscape A4 page per snapshot, scaled to fit.
func WritePDF(w io.Writer, title string, pages ...Page) error {
	if len(pages) == 0 {
		return errors.New("export: nothing to export")
	}

	p := gofpdf.New("L", "mm", "A4", "")
	p.SetTitle(title, true)
	p.SetCreator("classboard", true)
	pageW, pageH := p.GetPageSize()

	p.SetFooterFunc(func() {
		p.SetY(-pageMargin)
		p.SetFont("Helvetica", "", 8)
		p.CellFormat(0, 5, time.Now().Format("2006-01-02 15:04"), "", 0, "R", false, 0, "")
	})

	for i, page := range pages {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(page.PNG))
		if err != nil {
			return errors.Wrapf(err, "export: page %d", i+1)
		}
		name := fmt.Sprintf("snapshot-%d", i)
		opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
		p.RegisterImageOptionsReader(name, opts, bytes.NewReader(page.PNG))

		p.AddPage()
		p.SetFont("Helvetica", "B", 14)
		caption := title
		if page.Caption != "" {
			caption = title + " - " + page.Caption
		}
		p.CellFormat(0, titleHeight, caption, "", 1, "L", false, 0, "")

		x, y, iw, ih := fit(cfg.Width, cfg.Height,
			pageW-2*pageMargin, pageH-2*pageMargin-titleHeight)
		p.ImageOptions(name, pageMargin+x, pageMargin+titleHeight+y, iw, ih, false, opts, 0, "")
	}

	if err := p.Output(w); err != nil {
		return errors.Wrap(err, "export: write pdf")
	}
	return nil
}

// fit scales a srcW x srcH box into maxW x maxH keeping aspect, centred.
func fit(srcW, srcH int, maxW, maxH float64) (x, y, w, h float64) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0, maxW, maxH
	}
	scale := maxW / float64(srcW)
	if s := maxH / float64(srcH); s < scale {
		scale = s
	}
	w, h = float64(srcW)*scale, float64(srcH)*scale
	return (maxW - w) / 2, (maxH - h) / 2, w, h
}
