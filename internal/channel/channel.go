// Package channel implements the Channel contract from spec §6: each
// adapter implements poll() and send(); the AgentLoop is agnostic to which
// channel a message arrived on. Grounded on the teacher's
// internal/channel/manager.go for the ChannelManager fan-out/shutdown
// shape (StartAll with a WaitGroup, StopAll logging per-adapter errors),
// replacing its bus.MessageBus indirection with a direct Inbound channel
// since picoagent's AgentLoop pulls turns one session at a time rather
// than subscribing to a shared bus.
package channel

import (
	"context"
)

// Inbound is one message arriving on a channel.
type Inbound struct {
	Channel  string
	Sender   string
	ChatID   string
	Text     string
	Metadata map[string]string
}

// Channel is the adapter contract. Poll blocks, delivering inbound
// messages to out until ctx is cancelled. Send delivers a reply to the
// given sender/chat.
type Channel interface {
	Name() string
	Poll(ctx context.Context, out chan<- Inbound) error
	Send(ctx context.Context, chatID, text string) error
	Stop() error
}

// AllowlistFilter reports whether sender may use the channel. A nil or
// empty allowlist permits everyone, matching the teacher's
// allow-all-by-default posture when no restriction is configured.
type AllowlistFilter struct {
	Allow []string
}

func (f AllowlistFilter) Permits(sender string) bool {
	if len(f.Allow) == 0 {
		return true
	}
	for _, a := range f.Allow {
		if a == sender {
			return true
		}
	}
	return false
}
