package channel

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestAllowlistFilter_EmptyPermitsEveryone(t *testing.T) {
	f := AllowlistFilter{}
	if !f.Permits("anyone") {
		t.Error("empty allowlist should permit everyone")
	}
}

func TestAllowlistFilter_RestrictsToAllowed(t *testing.T) {
	f := AllowlistFilter{Allow: []string{"alice", "bob"}}
	if !f.Permits("alice") {
		t.Error("should permit alice")
	}
	if f.Permits("carol") {
		t.Error("should reject carol")
	}
}

func TestCLIChannel_PollForwardsTrimmedLines(t *testing.T) {
	in := strings.NewReader("  hello  \n\nworld\n")
	var out bytes.Buffer
	ch := NewCLIChannel("sess-1", in, &out)

	inbound := make(chan Inbound, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := ch.Poll(ctx, inbound); err != nil {
		t.Fatalf("poll: %v", err)
	}
	close(inbound)

	var got []string
	for msg := range inbound {
		got = append(got, msg.Text)
	}
	if len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Fatalf("got %v", got)
	}
}

func TestCLIChannel_SendWritesLine(t *testing.T) {
	var out bytes.Buffer
	ch := NewCLIChannel("sess-1", strings.NewReader(""), &out)
	if err := ch.Send(context.Background(), "sess-1", "hi there"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "hi there\n" {
		t.Fatalf("got %q", out.String())
	}
}

func TestCLIChannel_SendAfterStopIsNoop(t *testing.T) {
	var out bytes.Buffer
	ch := NewCLIChannel("sess-1", strings.NewReader(""), &out)
	_ = ch.Stop()
	if err := ch.Send(context.Background(), "sess-1", "hi"); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output after stop, got %q", out.String())
	}
}

type stubChannel struct {
	name    string
	stopped bool
}

func (s *stubChannel) Name() string { return s.name }
func (s *stubChannel) Poll(ctx context.Context, out chan<- Inbound) error {
	<-ctx.Done()
	return nil
}
func (s *stubChannel) Send(ctx context.Context, chatID, text string) error { return nil }
func (s *stubChannel) Stop() error                                         { s.stopped = true; return nil }

func TestManager_StartAllStopAll(t *testing.T) {
	m := NewManager(nil)
	a := &stubChannel{name: "a"}
	b := &stubChannel{name: "b"}
	m.Register(a)
	m.Register(b)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Inbound, 1)
	errCh := m.StartAll(ctx, out)
	cancel()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("StartAll did not shut down after cancel")
	}

	m.StopAll()
	if !a.stopped || !b.stopped {
		t.Fatal("expected both channels stopped")
	}
	names := m.EnabledChannels()
	if len(names) != 2 {
		t.Fatalf("got %v", names)
	}
}

func TestManager_SendUnknownChannel(t *testing.T) {
	m := NewManager(nil)
	if err := m.Send(context.Background(), "ghost", "chat", "hi"); err == nil {
		t.Fatal("expected error for unregistered channel")
	}
}
