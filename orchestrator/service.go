package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/izavyalov-dev/reportd/admission"
	"github.com/izavyalov-dev/reportd/internal/observability"
)

var (
	// ErrNotReady means the service has no way to deliver reports yet.
	ErrNotReady = errors.New("service not ready")
	// ErrShuttingDown means new runs are no longer accepted.
	ErrShuttingDown = errors.New("service shutting down")
)

// Ticket identifies a run started in the background.
type Ticket struct {
	RunID string
}

// Service admits requests from every channel and runs them through the pipeline.
type Service struct {
	gate     *admission.Gate
	pipeline *Pipeline
	channels ChannelFactory
	ids      IDGenerator
	logger   *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
}

type ServiceConfig struct {
	Gate     *admission.Gate
	Pipeline *Pipeline
	// Channels resolves requester ids to delivery channels. Nil means
	// background submissions are refused with ErrNotReady.
	Channels ChannelFactory
	IDs      IDGenerator
	Logger   *slog.Logger
}

// NewService constructs a service with sensible defaults.
func NewService(cfg ServiceConfig) *Service {
	if cfg.IDs == nil {
		cfg.IDs = UUIDGenerator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger("orchestrator")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		gate:     cfg.Gate,
		pipeline: cfg.Pipeline,
		channels: cfg.Channels,
		ids:      cfg.IDs,
		logger:   cfg.Logger,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// SetChannels installs the channel factory once the chat transport is up.
func (s *Service) SetChannels(channels ChannelFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = channels
}

// Ready reports whether background submissions can be delivered.
func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels != nil && !s.closed
}

func (s *Service) Gate() *admission.Gate { return s.gate }

// EngineBusy reports whether a run currently holds the engine.
func (s *Service) EngineBusy() bool {
	return s.pipeline.EngineBusy()
}

// SubmitSigned verifies mini-app initData, admits the request and starts it
// in the background.
func (s *Service) SubmitSigned(ctx context.Context, initData string, req admission.Request) (Ticket, error) {
	if !s.Ready() {
		return Ticket{}, ErrNotReady
	}
	admitted, err := s.gate.AdmitSigned(ctx, initData, req)
	if err != nil {
		return Ticket{}, err
	}
	return s.start(admitted)
}

// Submit admits a chat request and starts it in the background.
func (s *Service) Submit(ctx context.Context, req admission.Request) (Ticket, error) {
	if !s.Ready() {
		return Ticket{}, ErrNotReady
	}
	admitted, err := s.gate.Admit(ctx, req)
	if err != nil {
		return Ticket{}, err
	}
	return s.start(admitted)
}

// Generate admits the request and runs it synchronously on ch.
func (s *Service) Generate(ctx context.Context, req admission.Request, ch Channel) (Outcome, error) {
	admitted, err := s.gate.Admit(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if !s.track() {
		s.gate.Withdraw(admitted)
		return Outcome{}, ErrShuttingDown
	}
	defer s.inflight.Done()
	return s.pipeline.Run(ctx, s.ids.RunID(), admitted, ch), nil
}

func (s *Service) start(req admission.Request) (Ticket, error) {
	s.mu.Lock()
	channels := s.channels
	s.mu.Unlock()
	if !s.track() {
		s.gate.Withdraw(req)
		return Ticket{}, ErrShuttingDown
	}
	runID := s.ids.RunID()
	ch := channels(req.RequesterID)
	go func() {
		defer s.inflight.Done()
		s.pipeline.Run(s.baseCtx, runID, req, ch)
	}()
	return Ticket{RunID: runID}, nil
}

func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Shutdown stops accepting runs and waits for in-flight ones. When ctx ends
// first, running pipelines are canceled and awaited.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.logger.Warn("canceling in-flight runs", "event", "shutdown_cancel")
		s.cancel()
		<-done
		return ctx.Err()
	}
}
