package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/izavyalov-dev/reportd/admission"
	"github.com/izavyalov-dev/reportd/state"
)

const testBotToken = "123456:test-token"

type channelBook struct {
	mu       sync.Mutex
	channels map[int64]*recordingChannel
}

func newChannelBook() *channelBook {
	return &channelBook{channels: make(map[int64]*recordingChannel)}
}

func (b *channelBook) factory(requesterID int64) Channel {
	return b.get(requesterID)
}

func (b *channelBook) get(requesterID int64) *recordingChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[requesterID]
	if !ok {
		ch = &recordingChannel{}
		b.channels[requesterID] = ch
	}
	return ch
}

type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceIDs) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "run-" + string(rune('0'+s.n))
}

func newTestGate(fx *pipelineFixture, now func() time.Time, ids ...int64) *admission.Gate {
	return admission.NewGate(admission.GateConfig{
		Verifier:  admission.NewInitDataVerifier(testBotToken, 0, now),
		Whitelist: admission.NewWhitelist(admission.StaticWhitelist(ids), 0, now, nil),
		Cooldown:  admission.NewCooldown(admission.DefaultCooldown, now),
		Kinds:     fx.registry,
		Now:       now,
	})
}

func newTestService(t *testing.T, fx *pipelineFixture, book *channelBook) *Service {
	t.Helper()
	cfg := ServiceConfig{
		Gate:     newTestGate(fx, time.Now, 111, 222),
		Pipeline: fx.pipeline,
		IDs:      &sequenceIDs{},
	}
	if book != nil {
		cfg.Channels = book.factory
	}
	return NewService(cfg)
}

func TestServiceSubmitRunsInBackground(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{})
	book := newChannelBook()
	svc := newTestService(t, fx, book)

	ticket, err := svc.Submit(context.Background(), berichtRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ticket.RunID != "run-1" {
		t.Fatalf("unexpected run id %q", ticket.RunID)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if fx.recorder.runs["run-1"].State != state.RunStateDone {
		t.Fatalf("expected DONE, got %s", fx.recorder.runs["run-1"].State)
	}
	if book.get(111).documentCount() != 1 {
		t.Fatal("expected the report delivered to the requester")
	}
	fx.assertClean(t)
}

func TestServiceSubmitRejections(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{})
	svc := newTestService(t, fx, newChannelBook())
	defer svc.Shutdown(context.Background())

	req := berichtRequest()
	req.RequesterID = 999
	if _, err := svc.Submit(context.Background(), req); err == nil {
		t.Fatal("expected unauthorized requester to be rejected")
	} else if rej, ok := admission.AsRejection(err); !ok || rej.Reason != admission.ReasonUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	if _, err := svc.Submit(context.Background(), berichtRequest()); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := svc.Submit(context.Background(), berichtRequest())
	rej, ok := admission.AsRejection(err)
	if !ok || rej.Reason != admission.ReasonRateLimited {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestServiceWithoutChannelsIsNotReady(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{})
	svc := newTestService(t, fx, nil)

	if svc.Ready() {
		t.Fatal("expected service without channels to be not ready")
	}
	if _, err := svc.Submit(context.Background(), berichtRequest()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	svc.SetChannels(newChannelBook().factory)
	if !svc.Ready() {
		t.Fatal("expected service ready once channels are installed")
	}
}

func TestServiceRefusesRunsAfterShutdown(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{})
	svc := newTestService(t, fx, newChannelBook())
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := svc.Submit(context.Background(), berichtRequest()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady after shutdown, got %v", err)
	}
	req := berichtRequest()
	req.Channel = admission.ChannelScheduled
	if _, err := svc.Generate(context.Background(), req, &recordingChannel{}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestServiceShutdownCancelsSlowRuns(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{})
	fx.sim.WithRunTime(time.Minute)
	svc := newTestService(t, fx, newChannelBook())

	if _, err := svc.Submit(context.Background(), berichtRequest()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	run := fx.recorder.runs["run-1"]
	if run.State != state.RunStateFailed || run.Cause != state.CauseCanceled {
		t.Fatalf("expected FAILED/canceled, got %s/%s", run.State, run.Cause)
	}
	fx.assertClean(t)
}

func TestServiceGenerateScheduled(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{})
	svc := newTestService(t, fx, nil)

	req := admission.Request{Kind: "bericht", Year: 2026, Week: 6, Channel: admission.ChannelScheduled}
	ch := &recordingChannel{}
	outcome, err := svc.Generate(context.Background(), req, ch)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if outcome.State != state.RunStateDone {
		t.Fatalf("expected DONE, got %s (%v)", outcome.State, outcome.Err)
	}
	if ch.documentCount() != 1 {
		t.Fatal("expected the report delivered")
	}
}

func TestServiceReturnsCooldownWhenRunNotStarted(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{})
	svc := newTestService(t, fx, newChannelBook())
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	req := berichtRequest()
	req.Channel = admission.ChannelRawMessage
	if _, err := svc.Generate(context.Background(), req, &recordingChannel{}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
	if _, err := svc.Gate().Admit(context.Background(), req); err != nil {
		t.Fatalf("expected cooldown returned for the unstarted run, got %v", err)
	}
	if fx.sim.Starts() != 0 {
		t.Fatal("expected no engine session after shutdown")
	}
}
