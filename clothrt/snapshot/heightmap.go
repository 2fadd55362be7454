package snapshot

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/gekko3d/cloth/clothrt/core"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"
)

// Heightmap renders the particle heights along up as a grayscale image with one
// pixel per particle: column -> x, row -> y. The lowest particle maps to black and
// the highest to white. Non-finite particles are drawn black.
func Heightmap(particles []core.Particle, grid core.Grid, up mgl32.Vec3) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, grid.Width, grid.Height))
	if len(particles) < grid.Count() || grid.Count() == 0 {
		return img
	}
	if up.Len() == 0 {
		up = mgl32.Vec3{0, 1, 0}
	}
	up = up.Normalize()

	heights := make([]float32, grid.Count())
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for i := range heights {
		if !particles[i].Finite() {
			heights[i] = float32(math.NaN())
			continue
		}
		h := particles[i].Position.Dot(up)
		heights[i] = h
		lo = min(lo, h)
		hi = max(hi, h)
	}

	span := hi - lo
	for i, h := range heights {
		row, col := grid.RowCol(i)
		var level uint8
		switch {
		case math.IsNaN(float64(h)):
			level = 0
		case span > 0:
			level = uint8(math.Round(float64((h - lo) / span * 255)))
		default:
			level = 128
		}
		img.SetGray(col, row, color.Gray{Y: level})
	}
	return img
}

// WritePNG encodes img scaled by an integer factor with nearest-neighbour sampling.
func WritePNG(w io.Writer, img image.Image, scale int) error {
	if scale > 1 {
		b := img.Bounds()
		dst := image.NewGray(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
	}
	return png.Encode(w, img)
}
