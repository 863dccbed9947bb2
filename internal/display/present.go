package display

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"robodash-go/internal/imaging"
)

// FitRect returns the destination rectangle that covers a dstW x dstH
// surface with a srcW x srcH image at its own aspect ratio. The image fills
// the surface along one axis and overflows it equally along the other, so
// the rectangle may start at a negative offset. When the overflow is odd the
// extra pixel falls off the trailing (right or bottom) edge.
func FitRect(srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rectangle{}
	}
	ra := float64(srcW) / float64(srcH)
	sa := float64(dstW) / float64(dstH)
	if ra > sa {
		w := int(math.Round(float64(dstH) * ra))
		if w < 1 {
			w = 1
		}
		x := (dstW - w) / 2
		return image.Rect(x, 0, x+w, dstH)
	}
	h := int(math.Round(float64(dstW) / ra))
	if h < 1 {
		h = 1
	}
	y := (dstH - h) / 2
	return image.Rect(0, y, dstW, y+h)
}

// Present draws r onto s, scaled to cover it. It never fails: anything that
// goes wrong while drawing ends up as an error message on the surface.
func Present(r *imaging.Raster, s *Surface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			s.message(fmt.Sprintf("Error processing image: %v", p), Error)
		}
	}()

	if r == nil || r.Width <= 0 || r.Height <= 0 || len(r.Pix) < r.Width*r.Height*4 {
		s.message("Invalid image format", Error)
		return
	}

	s.clear()
	s.mode = modeLive
	b := s.img.Bounds()
	dst := FitRect(r.Width, r.Height, b.Dx(), b.Dy())
	if dst.Empty() {
		return
	}
	src := r.Image()
	draw.ApproxBiLinear.Scale(s.img, dst, src, src.Bounds(), draw.Over, nil)
}
