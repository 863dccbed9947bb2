package simulator

import (
	"context"
	"math/rand"
	"time"
)

// Sample is one round of simulated telemetry.
type Sample struct {
	CameraSpeed float64
	LidarSpeed  float64
	Odometer    float64
}

// Sink shows a sample. Returning false stops the simulation for good.
type Sink interface {
	Simulate(sample Sample, rng *rand.Rand) bool
}

// Generator produces speeds in [20, 80) and integrates the odometer over the
// tick interval at their average.
type Generator struct {
	rng      *rand.Rand
	interval time.Duration
	total    float64
}

func NewGenerator(rng *rand.Rand, interval time.Duration) *Generator {
	return &Generator{rng: rng, interval: interval}
}

func (g *Generator) Next() Sample {
	camera := g.rng.Float64()*60 + 20
	lidar := g.rng.Float64()*60 + 20
	g.total += (camera + lidar) / 2 / 3600 * g.interval.Seconds()
	return Sample{CameraSpeed: camera, LidarSpeed: lidar, Odometer: g.total}
}

// Run feeds sink a new sample every interval until ctx is done or the sink
// declines.
func Run(ctx context.Context, sink Sink, interval time.Duration, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	gen := NewGenerator(rng, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !sink.Simulate(gen.Next(), rng) {
				return
			}
		}
	}
}
