// Package manager owns the process's single wallet connect client.
//
// It restores the saved session on Connect, saves the session once the wallet
// approves at least one account, and forgets it when the session ends. A client
// that loses its bridge connection is dropped but its saved session is kept, so
// the next Connect restores it.
package manager

import (
	"context"
	"sync"

	"moff.io/moff-wallet/internal/chains"
	"moff.io/moff-wallet/internal/sessionstore"
	"moff.io/moff-wallet/internal/walletconnect"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

type Manager struct {
	opts       walletconnect.Options
	store      sessionstore.Store
	dispatcher *walletconnect.Dispatcher

	mu     sync.Mutex
	client *walletconnect.Client

	listenersMu sync.RWMutex
	listeners   []walletconnect.Listener
}

// New prepares a manager. Every client it creates shares one dispatcher, so the
// event stream survives replacing the client.
func New(store sessionstore.Store, opts walletconnect.Options) *Manager {
	m := &Manager{
		store:      store,
		dispatcher: walletconnect.NewDispatcher(),
	}
	opts.Dispatcher = m.dispatcher
	m.opts = opts
	m.dispatcher.SetListener(m)
	return m
}

// AddListener registers l for every session event. Listeners run on the dispatcher goroutine.
func (m *Manager) AddListener(l walletconnect.Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) Dispatcher() *walletconnect.Dispatcher {
	return m.dispatcher
}

// Connect returns the current client, creating one if the slot is empty or its relay
// is gone: the saved session is restored when there is one, and a fresh session is
// opened otherwise.
func (m *Manager) Connect(ctx context.Context) (*walletconnect.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.client; c != nil && !c.Destroyed() {
		if c.RelayAlive() {
			return c, nil
		}
		log.Warnf("wallet session %v lost its relay, reconnecting", c.Session().ClientID)
		c.Destroy()
	}
	m.client = nil

	if c := m.restore(ctx); c != nil {
		m.client = c
		return c, nil
	}
	c, err := walletconnect.New(ctx, m.opts)
	if err != nil {
		return nil, err
	}
	m.client = c
	return c, nil
}

func (m *Manager) restore(ctx context.Context) *walletconnect.Client {
	saved, ok, err := m.store.Load(ctx)
	if err != nil {
		log.Warnf("load saved wallet session:%v", err)
		return nil
	}
	if !ok {
		return nil
	}
	c, err := walletconnect.Restore(ctx, saved, m.opts)
	if err != nil {
		log.Warnf("restore wallet session, starting a new one:%v", err)
		return nil
	}
	return c
}

// Client returns the live client, or an InvalidClient error when there is none.
func (m *Manager) Client() (*walletconnect.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || m.client.Destroyed() {
		return nil, walletconnect.ErrInvalidClient
	}
	return m.client, nil
}

// EnsureSession waits for the wallet's approval and saves the session when it names an account.
func (m *Manager) EnsureSession(ctx context.Context) (*walletconnect.SessionResult, error) {
	c, err := m.Client()
	if err != nil {
		return nil, err
	}
	res, err := c.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Addresses) > 0 {
		log.Infof("wallet session %v approved on %v", c.Session().ClientID, chains.NameOf(res.ChainID))
		if err := m.save(ctx, c); err != nil {
			log.Error(err)
		}
	}
	return res, nil
}

// SaveSession persists the current client's session.
func (m *Manager) SaveSession(ctx context.Context) error {
	c, err := m.Client()
	if err != nil {
		return err
	}
	return m.save(ctx, c)
}

func (m *Manager) save(ctx context.Context, c *walletconnect.Client) error {
	session, err := c.Save()
	if err != nil {
		return err
	}
	return errors.Wrap(m.store.Save(ctx, session), "save wallet session")
}

// ClearSession deletes the saved session, destroys the client and empties the slot.
func (m *Manager) ClearSession(ctx context.Context) error {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	if c != nil {
		c.Destroy()
	}
	if _, err := m.store.Delete(ctx); err != nil {
		return errors.Wrap(err, "delete wallet session")
	}
	return nil
}

// OnSessionEvent fans info out to the listeners and clears the slot when the session ended.
// A Disconnected event that still reports Connected is a lost relay: the client goes,
// the saved session stays.
func (m *Manager) OnSessionEvent(info walletconnect.SessionInfo) {
	m.listenersMu.RLock()
	listeners := append([]walletconnect.Listener{}, m.listeners...)
	m.listenersMu.RUnlock()
	for _, l := range listeners {
		notify(l, info)
	}

	if info.State != walletconnect.StateDisconnected {
		return
	}
	if info.Connected {
		if m.dropDead(info.ClientID) {
			log.Warnf("wallet session %v lost its relay, keeping it for restore", info.ClientID)
		}
		return
	}
	if !m.isCurrent(info.ClientID) {
		return
	}
	log.Infof("wallet session %v ended, clearing it", info.ClientID)
	if err := m.ClearSession(context.Background()); err != nil {
		log.Error(err)
	}
}

func notify(l walletconnect.Listener, info walletconnect.SessionInfo) {
	defer func() {
		if i := recover(); i != nil {
			log.Error(errors.ErrorfAndReport("session listener panicked on %v event: %v", info.State, i))
		}
	}()
	l.OnSessionEvent(info)
}

// dropDead empties the slot if it holds clientID's client and that client's relay is down.
// A restored client reuses the client id, so a live relay means the event is stale.
func (m *Manager) dropDead(clientID string) bool {
	m.mu.Lock()
	c := m.client
	if c == nil || c.RelayAlive() || c.Session().ClientID != clientID {
		m.mu.Unlock()
		return false
	}
	m.client = nil
	m.mu.Unlock()
	c.Destroy()
	return true
}

func (m *Manager) isCurrent(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && m.client.Session().ClientID == clientID
}

// Start delivers session events on a goroutine of its own until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		if err := m.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("session dispatcher stopped:%v", err)
		}
	}()
	log.Info("wallet session manager started...")
}

// Stop destroys the client, keeping the saved session for the next run.
func (m *Manager) Stop() {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	if c != nil {
		c.Destroy()
	}
	m.dispatcher.Close()
	if err := m.store.Close(); err != nil {
		log.Warnf("close session store:%v", err)
	}
}
