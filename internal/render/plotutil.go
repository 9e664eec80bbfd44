package render

import (
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// pngDPI is the fixed raster density for scope/FFT/spectrogram PNGs (§4.7:
// "Emit PNG at 80 dpi").
const pngDPI = 80.0

// inchesAt80DPI converts a pixel dimension to the vg.Length gonum/plot
// wants, at the fixed 80 dpi resolution.
func inchesAt80DPI(px int) vg.Length {
	return vg.Length(float64(px)/pngDPI) * vg.Inch
}

// saveStacked renders one plot per row into a single PNG, stacking
// channels vertically (§4.7 Scope: "render one subplot per channel").
func saveStacked(plots []*plot.Plot, widthPx, heightPxPerRow int, path string) error {
	rows := len(plots)
	if rows == 0 {
		rows = 1
	}
	width := inchesAt80DPI(widthPx)
	height := inchesAt80DPI(heightPxPerRow * rows)

	img := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(pngDPI))
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: rows, Cols: 1}

	grid := make([][]*plot.Plot, rows)
	for i, p := range plots {
		grid[i] = []*plot.Plot{p}
	}
	canvases := plot.Align(grid, tiles, dc)
	for i, row := range canvases {
		plots[i].Draw(row[0])
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	png := vgimg.PngCanvas{Canvas: img}
	_, err = png.WriteTo(f)
	return err
}

// saveSingle renders one plot into a single PNG.
func saveSingle(p *plot.Plot, widthPx, heightPx int, path string) error {
	img := vgimg.NewWith(vgimg.UseWH(inchesAt80DPI(widthPx), inchesAt80DPI(heightPx)), vgimg.UseDPI(pngDPI))
	p.Draw(draw.New(img))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	png := vgimg.PngCanvas{Canvas: img}
	_, err = png.WriteTo(f)
	return err
}
