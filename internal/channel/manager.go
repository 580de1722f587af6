package channel

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Manager fans inbound messages from every enabled Channel into a single
// stream and dispatches outbound replies back to the channel they came
// from, grounded on the teacher's ChannelManager.StartAll/StopAll shape
// (a WaitGroup per adapter, errors collected rather than aborting the
// others) with bus.MessageBus subscriptions replaced by a direct Inbound
// channel, since the AgentLoop pulls turns one at a time instead of
// subscribing to a shared bus.
type Manager struct {
	logger *log.Logger

	mu       sync.Mutex
	channels map[string]Channel
}

func NewManager(logger *log.Logger) *Manager {
	return &Manager{logger: logger, channels: map[string]Channel{}}
}

func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll polls every registered channel concurrently, forwarding all
// Inbound messages onto out until ctx is cancelled or every adapter's
// Poll has returned. Errors are collected on the returned channel rather
// than aborting the other adapters.
func (m *Manager) StartAll(ctx context.Context, out chan<- Inbound) <-chan error {
	m.mu.Lock()
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	errCh := make(chan error, len(channels))
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if m.logger != nil {
				m.logger.Printf("channel %s: starting", ch.Name())
			}
			if err := ch.Poll(ctx, out); err != nil {
				errCh <- fmt.Errorf("channel %s: %w", ch.Name(), err)
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(errCh)
	}()
	return errCh
}

// StopAll calls Stop on every registered channel, logging but not
// aborting on individual failures.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ch := range m.channels {
		if err := ch.Stop(); err != nil && m.logger != nil {
			m.logger.Printf("channel %s: stop: %v", name, err)
		}
	}
}

// Send routes a reply to the channel it should be delivered on.
func (m *Manager) Send(ctx context.Context, channelName, chatID, text string) error {
	ch, ok := m.Get(channelName)
	if !ok {
		return fmt.Errorf("channel %q not registered", channelName)
	}
	return ch.Send(ctx, chatID, text)
}

// EnabledChannels lists the names of every registered channel.
func (m *Manager) EnabledChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
