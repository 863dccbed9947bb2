//go:build !zmq

package tap

import "go.uber.org/zap"

func Open(_ string, _ *zap.Logger) (*Tap, error) {
	return nil, ErrDisabled
}
