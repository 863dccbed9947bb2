package display

import (
	"strconv"
	"sync"
)

const scalarIdle = "0.0"

// Scalar is a single numeric readout shown with one decimal place.
type Scalar struct {
	mu    sync.Mutex
	name  string
	value float64
	text  string
}

func NewScalar(name string) *Scalar {
	return &Scalar{name: name, text: scalarIdle}
}

func (s *Scalar) Name() string { return s.name }

// Set stores v and returns the text now displayed.
func (s *Scalar) Set(v float64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.text = strconv.FormatFloat(v, 'f', 1, 64)
	return s.text
}

func (s *Scalar) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *Scalar) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func (s *Scalar) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = 0
	s.text = scalarIdle
}
