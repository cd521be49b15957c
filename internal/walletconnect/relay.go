package walletconnect

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/ratelimit"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
	"moff.io/moff-wallet/pkg/wcprotocol"
)

var ErrRelayClosed = errors.New("relay connection closed")

// Relay is a connection to a WalletConnect bridge.
type Relay interface {
	// Subscribe asks the bridge to forward messages published on topic.
	Subscribe(topic string) error
	// Publish sends an encrypted payload to topic.
	Publish(topic, payload string, silent bool) error
	// Messages yields inbound pub frames in arrival order.
	// It is closed once the connection is gone.
	Messages() <-chan *SocketMessage
	// Err explains why Messages was closed, nil after a clean Close.
	Err() error
	Close() error
}

// Dialer opens relays. It lets tests swap the bridge for an in-memory one.
type Dialer interface {
	Dial(ctx context.Context, bridge string) (Relay, error)
}

type WebsocketDialerConfig struct {
	HandshakeTimeout time.Duration
	// PingInterval keeps idle bridge connections alive; zero disables pings.
	PingInterval time.Duration
	WriteTimeout time.Duration
	// PublishPerSecond throttles outbound frames; zero means unlimited.
	PublishPerSecond int
	// InboundBuffer is the number of frames read ahead of the client.
	InboundBuffer int
}

func DefaultWebsocketDialerConfig() WebsocketDialerConfig {
	return WebsocketDialerConfig{
		HandshakeTimeout: 15 * time.Second,
		PingInterval:     15 * time.Second,
		WriteTimeout:     10 * time.Second,
		InboundBuffer:    64,
	}
}

// WebsocketDialer dials bridges over gorilla websockets.
type WebsocketDialer struct {
	cfg WebsocketDialerConfig
}

func NewWebsocketDialer(cfg WebsocketDialerConfig) *WebsocketDialer {
	def := DefaultWebsocketDialerConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = def.InboundBuffer
	}
	return &WebsocketDialer{cfg: cfg}
}

func (d *WebsocketDialer) Dial(ctx context.Context, bridge string) (Relay, error) {
	wsURL := wcprotocol.WebSocketURL(bridge)
	dialer := websocket.Dialer{HandshakeTimeout: d.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial to wallet connect bridge %v", wsURL)
	}
	log.Debugf("wallet connect - connected to bridge:%v", wsURL)

	throttle := ratelimit.NewUnlimited()
	if d.cfg.PublishPerSecond > 0 {
		throttle = ratelimit.New(d.cfg.PublishPerSecond)
	}
	r := &websocketRelay{
		conn:         conn,
		writeTimeout: d.cfg.WriteTimeout,
		throttle:     throttle,
		messages:     make(chan *SocketMessage, d.cfg.InboundBuffer),
		done:         make(chan struct{}),
	}
	go r.readMessages()
	if d.cfg.PingInterval > 0 {
		go r.keepAlive(d.cfg.PingInterval)
	}
	return r, nil
}

type websocketRelay struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	throttle     ratelimit.Limiter

	messages  chan *SocketMessage
	done      chan struct{}
	closeOnce sync.Once
	err       atomic.Error
}

func (r *websocketRelay) Subscribe(topic string) error {
	msg := SocketMessage{Topic: topic, Type: messageSub, Payload: "", Silent: true}
	log.Debugf("wallet connect - subscribe:%v", topic)
	return r.write(msg.Marshal())
}

func (r *websocketRelay) Publish(topic, payload string, silent bool) error {
	r.throttle.Take()
	msg := SocketMessage{Topic: topic, Type: messagePub, Payload: payload, Silent: silent}
	log.Debugf("wallet connect - publish to %v, %v bytes", topic, len(payload))
	return r.write(msg.Marshal())
}

func (r *websocketRelay) ack(topic string) error {
	msg := SocketMessage{Topic: topic, Type: messageAck, Payload: "", Silent: true}
	return r.write(msg.Marshal())
}

func (r *websocketRelay) write(frame []byte) error {
	select {
	case <-r.done:
		return r.closedErr()
	default:
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
		return errors.Wrap(err, "set websocket write deadline")
	}
	if err := r.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.Wrap(err, "write wallet connect message to bridge")
	}
	return nil
}

func (r *websocketRelay) Messages() <-chan *SocketMessage {
	return r.messages
}

func (r *websocketRelay) Err() error {
	return r.err.Load()
}

func (r *websocketRelay) closedErr() error {
	if err := r.err.Load(); err != nil {
		return err
	}
	return ErrRelayClosed
}

func (r *websocketRelay) Close() error {
	r.shutdown(nil)
	return nil
}

func (r *websocketRelay) shutdown(cause error) {
	r.closeOnce.Do(func() {
		if cause != nil {
			r.err.Store(cause)
		}
		close(r.done)
		r.writeMu.Lock()
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		r.writeMu.Unlock()
		_ = r.conn.Close()
	})
}

// readMessages is the only writer of r.messages and closes it on exit.
func (r *websocketRelay) readMessages() {
	defer close(r.messages)
	for {
		msgType, data, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case <-r.done:
			default:
				log.Warnf("wallet connect - read from bridge:%v", err)
				r.shutdown(errors.Wrap(err, "read from bridge"))
			}
			return
		}
		if msgType != websocket.TextMessage {
			log.Debugf("wallet connect - ignoring websocket message type %v", msgType)
			continue
		}
		msg, err := parseSocketMessage(data)
		if err != nil {
			log.Warnf("wallet connect - dropping frame:%v", err)
			continue
		}
		if msg.Type != messagePub {
			continue
		}
		if err := r.ack(msg.Topic); err != nil {
			log.Warnf("wallet connect - ack %v:%v", msg.Topic, err)
		}
		select {
		case r.messages <- msg:
		case <-r.done:
			return
		}
	}
}

func (r *websocketRelay) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.writeMu.Lock()
			err := r.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(r.writeTimeout))
			r.writeMu.Unlock()
			if err != nil {
				r.shutdown(errors.Wrap(err, "ping bridge"))
				return
			}
		}
	}
}
