package session

import "robodash-go/internal/display"

// Notifier receives everything the dashboard shows. Implementations must not
// block; they are called from the dispatch goroutine.
type Notifier interface {
	FrameUpdated(slot int, f display.Frame)
	ScalarUpdated(channel, text string)
	StatusChanged(st Status)
	DecodeFailed(channel, kind string, err error)
	Alert(message string)
}

// Notifiers fans every event out to each notifier in order.
type Notifiers []Notifier

func (ns Notifiers) FrameUpdated(slot int, f display.Frame) {
	for _, n := range ns {
		n.FrameUpdated(slot, f)
	}
}

func (ns Notifiers) ScalarUpdated(channel, text string) {
	for _, n := range ns {
		n.ScalarUpdated(channel, text)
	}
}

func (ns Notifiers) StatusChanged(st Status) {
	for _, n := range ns {
		n.StatusChanged(st)
	}
}

func (ns Notifiers) DecodeFailed(channel, kind string, err error) {
	for _, n := range ns {
		n.DecodeFailed(channel, kind, err)
	}
}

func (ns Notifiers) Alert(message string) {
	for _, n := range ns {
		n.Alert(message)
	}
}
