package walletconnect

import (
	"time"
)

// Client protocol: https://docs.walletconnect.com/tech-spec#establishing-connection
//
// A Client is created with New or Restore and owns one relay connection and one
// Session. Blocking calls (EnsureSession, Sign*, Send*) must run on worker
// goroutines, never on the goroutine that drives the Dispatcher. Blocking calls
// on one client are served one at a time in arrival order.

const defaultRequestTimeout = 5 * time.Minute

// Options configures New and Restore.
type Options struct {
	Description string
	URL         string
	Icons       []string
	Name        string
	// ChainID requested from the wallet, zero lets the wallet choose.
	ChainID uint64

	// Bridge url, empty picks a public bridge at random. Restore uses the saved one.
	Bridge string
	Dialer Dialer
	// Dispatcher shared by successive clients. Nil gives the client its own,
	// which is closed on Destroy.
	Dispatcher *Dispatcher
	// RequestTimeout bounds blocking calls whose context has no deadline.
	RequestTimeout time.Duration
	// NodeDialer completes transactions that name a web3 api url.
	NodeDialer NodeDialer
	Observer   RequestObserver
}

func (o *Options) clientMeta() ClientMeta {
	return ClientMeta{
		Description: o.Description,
		URL:         o.URL,
		Icons:       append([]string{}, o.Icons...),
		Name:        o.Name,
	}
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = NewWebsocketDialer(DefaultWebsocketDialerConfig())
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.NodeDialer == nil {
		o.NodeDialer = DialNode
	}
	return o
}

// RequestObserver is told about every json-rpc round trip, e.g. for metrics.
type RequestObserver interface {
	ObserveRequest(method string, err error, elapsed time.Duration)
}
