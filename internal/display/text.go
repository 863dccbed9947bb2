package display

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) Color() color.RGBA {
	switch s {
	case Warning:
		return color.RGBA{R: 0xff, G: 0x98, B: 0x00, A: 0xff}
	case Error:
		return color.RGBA{R: 0xf4, G: 0x43, B: 0x36, A: 0xff}
	default:
		return color.RGBA{R: 0x33, G: 0x99, B: 0xff, A: 0xff}
	}
}

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// ShowMessage replaces the surface content with centered diagnostic text.
func ShowMessage(s *Surface, text string, sev Severity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message(text, sev)
}

// caller holds mu
func (s *Surface) message(text string, sev Severity) {
	s.clear()
	s.mode = modeMessage
	drawCentered(s.img, text, sev.Color())
}

func drawCentered(img *image.RGBA, text string, col color.Color) {
	face := basicfont.Face7x13
	b := img.Bounds()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
	}
	width := d.MeasureString(text)
	metrics := face.Metrics()
	x := fixed.I(b.Min.X+b.Dx()/2) - width/2
	y := fixed.I(b.Min.Y+b.Dy()/2) + (metrics.Ascent-metrics.Descent)/2
	d.Dot = fixed.Point26_6{X: x, Y: y}
	d.DrawString(text)
}
