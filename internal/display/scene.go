package display

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand"
)

var (
	roadColor = color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
	laneColor = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

const (
	laneWidth = 5
	dashOn    = 30
	dashOff   = 20
)

// DrawRoadScene paints a placeholder camera view: a road band, a dashed lane
// marking and a few randomly coloured boxes. The surface stays idle, so a
// resize brings the idle text back.
func DrawRoadScene(s *Surface, rng *rand.Rand) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clear()
	b := s.img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return
	}

	fill(s.img, image.Rect(0, int(float64(h)*0.6), w, h), roadColor)

	lane := int(float64(h) * 0.8)
	for x := 0; x < w; x += dashOn + dashOff {
		fill(s.img, image.Rect(x, lane-laneWidth/2, x+dashOn, lane-laneWidth/2+laneWidth), laneColor)
	}

	n := rng.Intn(5) + 2
	for i := 0; i < n; i++ {
		x := int(rng.Float64() * float64(w))
		y := int(rng.Float64()*float64(h)*0.6 + float64(h)*0.3)
		size := int(rng.Float64()*30 + 20)
		fill(s.img, image.Rect(x, y, x+size, y+size), hsl(rng.Float64()*360, 0.7, 0.5))
	}
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

// hsl converts hue in degrees, saturation and lightness in [0,1].
func hsl(h, s, l float64) color.RGBA {
	c := (1 - math.Abs(2*l-1)) * s
	hp := math.Mod(h, 360) / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))
	var r, g, b float64
	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	m := l - c/2
	return color.RGBA{
		R: uint8(math.Round((r + m) * 255)),
		G: uint8(math.Round((g + m) * 255)),
		B: uint8(math.Round((b + m) * 255)),
		A: 0xff,
	}
}
