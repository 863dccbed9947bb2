package display

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
)

// Background is the fill colour of every surface.
var Background = color.RGBA{R: 0x11, G: 0x11, B: 0x11, A: 0xff}

type mode int

const (
	modeIdle mode = iota
	modeLive
	modeMessage
)

// Frame is a detached copy of a surface's pixels.
type Frame struct {
	Name   string
	Width  int
	Height int
	Pix    []uint8
}

// Surface is a fixed-size RGBA drawing target. Its size is changed only by
// Resize; presenting never changes it.
type Surface struct {
	mu       sync.Mutex
	name     string
	idleText string
	img      *image.RGBA
	mode     mode
}

func NewSurface(name, idleText string, width, height int) *Surface {
	s := &Surface{name: name, idleText: idleText}
	s.img = image.NewRGBA(image.Rect(0, 0, clampDim(width), clampDim(height)))
	s.idle()
	return s
}

func (s *Surface) Name() string { return s.name }

func (s *Surface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

// Idle reports whether the surface shows its idle placeholder.
func (s *Surface) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode == modeIdle
}

// Resize reallocates the pixel buffer. Content is not kept: the surface is
// cleared and, when idle, the idle text is drawn again.
func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = image.NewRGBA(image.Rect(0, 0, clampDim(width), clampDim(height)))
	if s.mode == modeIdle {
		s.idle()
		return
	}
	s.clear()
}

// Reset returns the surface to its idle placeholder.
func (s *Surface) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle()
}

func (s *Surface) Snapshot() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.img.Bounds()
	return Frame{
		Name:   s.name,
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    append([]uint8(nil), s.img.Pix...),
	}
}

// At returns the colour of one pixel, mostly useful in tests.
func (s *Surface) At(x, y int) color.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img.RGBAAt(x, y)
}

// caller holds mu
func (s *Surface) clear() {
	draw.Draw(s.img, s.img.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)
}

// caller holds mu
func (s *Surface) idle() {
	s.clear()
	s.mode = modeIdle
	if s.idleText != "" {
		drawCentered(s.img, s.idleText, Info.Color())
	}
}

func clampDim(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
