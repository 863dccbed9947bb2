package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"robodash-go/internal/bridge"
	"robodash-go/internal/display"
	"robodash-go/internal/imaging"
)

// dispatch is the only consumer of subscription queues. Each queue is read
// in order and no two messages are handled at the same time. Inactive
// channels stay nil and never fire.
func (s *Session) dispatch(ctx context.Context, done chan<- struct{}, subs map[string]*bridge.Subscription) {
	defer close(done)

	queue := func(name string) <-chan bridge.Message {
		if sub, ok := subs[name]; ok {
			return sub.C()
		}
		return nil
	}
	cam1, cam2, det := queue(Camera1), queue(Camera2), queue(Detection)
	camSpeed, lidarSpeed, odo := queue(CameraSpeed), queue(LidarSpeed), queue(Odometer)

	for {
		var (
			name string
			m    bridge.Message
			ok   bool
		)
		select {
		case <-ctx.Done():
			return
		case m, ok = <-cam1:
			name = Camera1
			if !ok {
				cam1 = nil
			}
		case m, ok = <-cam2:
			name = Camera2
			if !ok {
				cam2 = nil
			}
		case m, ok = <-det:
			name = Detection
			if !ok {
				det = nil
			}
		case m, ok = <-camSpeed:
			name = CameraSpeed
			if !ok {
				camSpeed = nil
			}
		case m, ok = <-lidarSpeed:
			name = LidarSpeed
			if !ok {
				lidarSpeed = nil
			}
		case m, ok = <-odo:
			name = Odometer
			if !ok {
				odo = nil
			}
		}
		if !ok {
			continue
		}
		// disconnect wins over anything still queued
		if ctx.Err() != nil {
			return
		}
		s.handle(name, m)
	}
}

func (s *Session) handle(name string, m bridge.Message) {
	s.metrics.BridgeMessages.WithLabelValues(name).Inc()
	if slot, ok := Slot(name); ok {
		s.handleImage(name, slot, m)
		return
	}
	s.handleScalar(name, m)
}

func (s *Session) handleImage(name string, slot int, m bridge.Message) {
	surface := s.surfaces[slot]
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%v", p)
			s.log.Error("image pipeline panic", zap.String("channel", name), zap.Any("panic", p))
			s.placeholder(name, slot, "internal", "Error processing image: "+err.Error(), display.Error, err)
		}
	}()

	if m.Err != nil || m.Image == nil {
		err := m.Err
		if err == nil {
			err = errors.New("missing image")
		}
		s.placeholder(name, slot, "payload_type", "Error processing image: "+err.Error(), display.Error, err)
		return
	}

	img := m.Image
	data, err := imaging.Normalize(img.Data)
	if err != nil {
		text, sev := describe(err)
		s.placeholder(name, slot, imaging.Kind(err), text, sev, err)
		return
	}
	raster, err := imaging.Decode(data, img.Width, img.Height, img.Encoding)
	if err != nil {
		text, sev := describe(err)
		s.placeholder(name, slot, imaging.Kind(err), text, sev, err)
		return
	}
	if raster.Mismatch != nil {
		s.metrics.LengthMismatch.WithLabelValues(name).Inc()
		s.log.Warn("image length mismatch",
			zap.String("channel", name),
			zap.String("encoding", img.Encoding),
			zap.Int("width", img.Width),
			zap.Int("height", img.Height),
			zap.Int("expected", raster.Mismatch.Expected),
			zap.Int("actual", raster.Mismatch.Actual))
	}

	display.Present(raster, surface)
	s.metrics.FramesPresented.WithLabelValues(name).Inc()
	s.metrics.DecodeSeconds.Observe(time.Since(start).Seconds())
	s.notify.FrameUpdated(slot, surface.Snapshot())
}

func (s *Session) placeholder(name string, slot int, kind, text string, sev display.Severity, err error) {
	surface := s.surfaces[slot]
	display.ShowMessage(surface, text, sev)
	s.metrics.DecodeErrors.WithLabelValues(name, kind).Inc()
	s.log.Warn("image replaced by placeholder", zap.String("channel", name), zap.String("kind", kind), zap.Error(err))
	s.notify.DecodeFailed(name, kind, err)
	s.notify.FrameUpdated(slot, surface.Snapshot())
}

// describe maps a pipeline error to the placeholder text and its severity.
func describe(err error) (string, display.Severity) {
	var (
		b64      *imaging.Base64DecodeError
		payload  *imaging.UnsupportedPayloadTypeError
		encoding *imaging.UnsupportedEncodingError
		dims     *imaging.InvalidDimensionsError
	)
	switch {
	case errors.Is(err, imaging.ErrEmptyPayload):
		return "Empty image data received", display.Warning
	case errors.As(err, &b64):
		return "Error decoding image data: " + b64.Err.Error(), display.Error
	case errors.As(err, &payload):
		return "Unsupported data type: " + payload.TypeName, display.Error
	case errors.As(err, &encoding):
		return "Unsupported image encoding: " + encoding.Encoding, display.Warning
	case errors.As(err, &dims):
		return "Invalid image format", display.Error
	default:
		return "Error processing image: " + err.Error(), display.Error
	}
}

func (s *Session) handleScalar(name string, m bridge.Message) {
	if m.Err != nil {
		s.metrics.DecodeErrors.WithLabelValues(name, "scalar").Inc()
		s.log.Warn("bad scalar message", zap.String("channel", name), zap.Error(m.Err))
		s.notify.DecodeFailed(name, "scalar", m.Err)
		return
	}
	text := s.scalars[name].Set(m.Value)
	s.metrics.ScalarUpdates.WithLabelValues(name).Inc()
	s.notify.ScalarUpdated(name, text)
}
