//go:build zmq

package tap

import (
	"github.com/pebbe/zmq4"
	"go.uber.org/zap"
)

type zmqPublisher struct {
	socket *zmq4.Socket
}

func (p *zmqPublisher) publish(kind string, payload []byte) error {
	_, err := p.socket.SendMessageDontwait(kind, payload)
	return err
}

func (p *zmqPublisher) close() error {
	return p.socket.Close()
}

// Open binds a PUB socket at endpoint.
func Open(endpoint string, log *zap.Logger) (*Tap, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := socket.SetLinger(0); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if log != nil {
		log.Info("telemetry tap bound", zap.String("endpoint", endpoint))
	}
	return newTap(&zmqPublisher{socket: socket}, log), nil
}
