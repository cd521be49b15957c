package databus

import (
	"time"

	"moff.io/moff-wallet/internal/walletconnect"
	"moff.io/moff-wallet/pkg/log"
)

// Sink is where session events go: a kafka DataBus or an SQSQueue.
type Sink interface {
	Publish(e Event) error
}

// SessionPublisher forwards session transitions to a sink.
// It runs on the dispatcher goroutine, so a slow broker delays later events but never reorders them.
type SessionPublisher struct {
	sink  Sink
	topic string
	now   func() time.Time
}

func NewSessionPublisher(sink Sink, topic string) *SessionPublisher {
	return &SessionPublisher{sink: sink, topic: topic, now: time.Now}
}

func (p *SessionPublisher) OnSessionEvent(info walletconnect.SessionInfo) {
	e := NewSessionEvent(p.topic, info, p.now().UnixMilli())
	if err := p.sink.Publish(e); err != nil {
		log.Errorf("publish %v session event:%v", info.State, err)
	}
}
