// Package overlay draws extraction results onto rendered schematic pages
// for visual verification: boxes around components, polylines along wire
// paths, and markers on wire labels.
package overlay

import (
	"bytes"
	"image"
	"image/png"

	"github.com/fogleman/gg"

	"github.com/tracewire/schematic-extractor/internal/storage"
)

// Colors follow the web UI conventions: red for the selected component,
// orange for its neighbors, blue for wires, green for labels.
var (
	colorSelected  = rgba{0.9, 0.1, 0.1, 1.0}
	colorConnected = rgba{0.95, 0.55, 0.1, 1.0}
	colorWirePath  = rgba{0.1, 0.3, 0.9, 0.9}
	colorWireLabel = rgba{0.1, 0.6, 0.2, 1.0}
	fillSelected   = rgba{0.9, 0.1, 0.1, 0.15}
	fillConnected  = rgba{0.95, 0.55, 0.1, 0.12}
)

type rgba struct{ r, g, b, a float64 }

const (
	boxPadding      = 4.0
	labelMarkRadius = 6.0
)

// Highlight selects what to draw on one page.
type Highlight struct {
	// Selected is boxed in the primary color; Connected components in the
	// secondary one.
	Selected  []*storage.Component
	Connected []*storage.Component
	// Connections contribute their recorded wire paths.
	Connections []*storage.Connection
	WireLabels  []*storage.WireLabel
}

// Render draws the highlight onto a rendered page image and returns PNG
// bytes. Scale is the rasterization factor of the page image relative to
// PDF points; stored coordinates are in points and get scaled to pixels.
func Render(pageImage image.Image, scale float64, h Highlight) ([]byte, error) {
	if scale <= 0 {
		scale = 1
	}
	dc := gg.NewContextForImage(pageImage)

	for _, conn := range h.Connections {
		drawPath(dc, conn.Path, scale)
	}
	for _, c := range h.Connected {
		drawComponentBox(dc, c, scale, colorConnected, fillConnected)
	}
	for _, c := range h.Selected {
		drawComponentBox(dc, c, scale, colorSelected, fillSelected)
	}
	for _, w := range h.WireLabels {
		drawLabelMark(dc, w, scale)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawComponentBox(dc *gg.Context, c *storage.Component, scale float64, stroke, fill rgba) {
	if c.X == nil || c.Y == nil {
		return
	}
	w, hgt := 20.0, 20.0
	if c.Width != nil && *c.Width > 0 {
		w = *c.Width
	}
	if c.Height != nil && *c.Height > 0 {
		hgt = *c.Height
	}

	x := (*c.X - boxPadding) * scale
	y := (*c.Y - boxPadding) * scale
	bw := (w + 2*boxPadding) * scale
	bh := (hgt + 2*boxPadding) * scale

	dc.SetRGBA(fill.r, fill.g, fill.b, fill.a)
	dc.DrawRectangle(x, y, bw, bh)
	dc.Fill()

	dc.SetRGBA(stroke.r, stroke.g, stroke.b, stroke.a)
	dc.SetLineWidth(1.5 * scale)
	dc.DrawRectangle(x, y, bw, bh)
	dc.Stroke()
}

func drawPath(dc *gg.Context, path [][]float64, scale float64) {
	if len(path) < 2 {
		return
	}
	dc.SetRGBA(colorWirePath.r, colorWirePath.g, colorWirePath.b, colorWirePath.a)
	dc.SetLineWidth(2.0 * scale)
	for i := 1; i < len(path); i++ {
		prev, cur := path[i-1], path[i]
		if len(prev) < 2 || len(cur) < 2 {
			continue
		}
		dc.DrawLine(prev[0]*scale, prev[1]*scale, cur[0]*scale, cur[1]*scale)
		dc.Stroke()
	}
}

func drawLabelMark(dc *gg.Context, w *storage.WireLabel, scale float64) {
	if w.X == nil || w.Y == nil {
		return
	}
	dc.SetRGBA(colorWireLabel.r, colorWireLabel.g, colorWireLabel.b, colorWireLabel.a)
	dc.SetLineWidth(1.0 * scale)
	dc.DrawCircle(*w.X*scale, *w.Y*scale, labelMarkRadius*scale)
	dc.Stroke()
}
