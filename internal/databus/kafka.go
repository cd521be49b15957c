package databus

import (
	"encoding/json"

	"gopkg.in/Shopify/sarama.v1"
	"moff.io/moff-wallet/internal/walletconnect"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

type Event interface {
	Serialize() []byte
	Topic() string
	// Key keeps one session's events on one partition.
	Key() string
}

type DataBus struct {
	producer sarama.SyncProducer
}

// NewDataBus connects a synchronous producer to brokers.
func NewDataBus(brokers []string) (*DataBus, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers")
	}
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	conf.Producer.RequiredAcks = sarama.WaitForLocal
	p, err := sarama.NewSyncProducer(brokers, conf)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}
	log.Info("Kafka producer initialized...")
	return NewDataBusWithProducer(p), nil
}

func NewDataBusWithProducer(p sarama.SyncProducer) *DataBus {
	return &DataBus{producer: p}
}

func (db *DataBus) PublishRaw(topic, key string, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(raw),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	partition, offset, err := db.producer.SendMessage(msg)
	if err != nil {
		return errors.WrapAndReport(err, "produce message")
	}
	log.Debugf("produce message success-partition: %d, offset: %d", partition, offset)
	return nil
}

func (db *DataBus) Publish(e Event) (err error) {
	return db.PublishRaw(e.Topic(), e.Key(), e.Serialize())
}

func (db *DataBus) Close() error {
	return db.producer.Close()
}

// SessionEvent is a session transition as published to kafka. The session key never leaves the process.
type SessionEvent struct {
	topic string

	State          string   `json:"state"`
	Connected      bool     `json:"connected"`
	Accounts       []string `json:"accounts"`
	ChainID        string   `json:"chain_id"`
	Bridge         string   `json:"bridge"`
	ClientID       string   `json:"client_id"`
	PeerID         string   `json:"peer_id"`
	PeerMeta       string   `json:"peer_meta"`
	HandshakeTopic string   `json:"handshake_topic"`
	Timestamp      int64    `json:"timestamp"`
}

func NewSessionEvent(topic string, info walletconnect.SessionInfo, timestamp int64) *SessionEvent {
	return &SessionEvent{
		topic:          topic,
		State:          info.State.String(),
		Connected:      info.Connected,
		Accounts:       info.Accounts,
		ChainID:        info.ChainID,
		Bridge:         info.Bridge,
		ClientID:       info.ClientID,
		PeerID:         info.PeerID,
		PeerMeta:       info.PeerMeta,
		HandshakeTopic: info.HandshakeTopic,
		Timestamp:      timestamp,
	}
}

func (e *SessionEvent) Serialize() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal session event:%v", err)
		return nil
	}
	return b
}

func (e *SessionEvent) Topic() string {
	return e.topic
}

func (e *SessionEvent) Key() string {
	return e.ClientID
}
