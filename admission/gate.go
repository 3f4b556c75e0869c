package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/izavyalov-dev/reportd/internal/observability"
	"github.com/izavyalov-dev/reportd/registry"
)

// Channel identifies where a request came from.
type Channel string

const (
	ChannelInline     Channel = "inline"
	ChannelRawMessage Channel = "raw-message"
	ChannelHTTP       Channel = "http"
	ChannelScheduled  Channel = "scheduled"
)

const (
	MinYear = 2020
	MaxYear = 2100
	MinWeek = 1
	MaxWeek = 53
)

// Request is an admitted report request. It is passed by value.
type Request struct {
	Kind        string
	Year        int
	Week        int
	RequesterID int64
	Channel     Channel
	SubmittedAt time.Time
}

// Reason classifies a rejection.
type Reason string

const (
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonUnauthorized    Reason = "unauthorized"
	ReasonRateLimited     Reason = "rate_limited"
	ReasonInvalidParams   Reason = "invalid_params"
	ReasonUnknownKind     Reason = "unknown_kind"
)

// Rejection is returned for every request the gate refuses.
type Rejection struct {
	Reason      Reason
	WaitSeconds int
	Message     string
	Err         error
}

func (r *Rejection) Error() string {
	if r.Message != "" {
		return fmt.Sprintf("admission rejected (%s): %s", r.Reason, r.Message)
	}
	return fmt.Sprintf("admission rejected (%s)", r.Reason)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Kinds resolves report kinds; registry.Registry satisfies it.
type Kinds interface {
	Lookup(kind string) (registry.Report, error)
}

// Gate authenticates, authorizes and rate-limits requests from every channel.
type Gate struct {
	verifier  *InitDataVerifier
	whitelist *Whitelist
	cooldown  *Cooldown
	kinds     Kinds
	now       func() time.Time
	logger    *slog.Logger
	metrics   *observability.Metrics
}

type GateConfig struct {
	Verifier  *InitDataVerifier
	Whitelist *Whitelist
	Cooldown  *Cooldown
	Kinds     Kinds
	Now       func() time.Time
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Cooldown == nil {
		cfg.Cooldown = NewCooldown(DefaultCooldown, cfg.Now)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		verifier:  cfg.Verifier,
		whitelist: cfg.Whitelist,
		cooldown:  cfg.Cooldown,
		kinds:     cfg.Kinds,
		now:       cfg.Now,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Whitelist exposes the cached whitelist, e.g. for scheduler recipients.
func (g *Gate) Whitelist() *Whitelist {
	return g.whitelist
}

// AdmitSigned verifies a mini-app initData payload, then admits the request
// on behalf of the signed user.
func (g *Gate) AdmitSigned(ctx context.Context, initData string, req Request) (Request, error) {
	if g.verifier == nil {
		return Request{}, g.reject(req, &Rejection{Reason: ReasonUnauthenticated, Message: "signed requests are not configured"})
	}
	identity, err := g.verifier.Verify(initData)
	if err != nil {
		return Request{}, g.reject(req, &Rejection{Reason: ReasonUnauthenticated, Err: err})
	}
	req.RequesterID = identity.UserID
	return g.Admit(ctx, req)
}

// Admit checks authorization, kind, parameters and cooldown, in that order.
// Scheduled requests are a trusted identity and skip authorization and cooldown.
func (g *Gate) Admit(ctx context.Context, req Request) (Request, error) {
	trusted := req.Channel == ChannelScheduled

	if !trusted {
		if req.RequesterID == 0 || g.whitelist == nil || !g.whitelist.Allowed(ctx, req.RequesterID) {
			return Request{}, g.reject(req, &Rejection{Reason: ReasonUnauthorized})
		}
	}

	if _, err := g.kinds.Lookup(req.Kind); err != nil {
		msg := "unknown report type: " + req.Kind
		if errors.Is(err, registry.ErrKindDisabled) {
			msg = "report type not available yet: " + req.Kind
		}
		return Request{}, g.reject(req, &Rejection{Reason: ReasonUnknownKind, Message: msg, Err: err})
	}

	if err := ValidateParams(req.Year, req.Week); err != nil {
		return Request{}, g.reject(req, err)
	}

	if !trusted {
		if wait, ok := g.cooldown.Acquire(req.RequesterID); !ok {
			return Request{}, g.reject(req, &Rejection{Reason: ReasonRateLimited, WaitSeconds: wait, Message: fmt.Sprintf("please wait %ds", wait)})
		}
	}

	req.SubmittedAt = g.now().UTC()
	g.metrics.IncAdmission(string(req.Channel), "admitted")
	return req, nil
}

// Withdraw returns the cooldown slot of an admitted request that was never
// started, so the requester can retry at once.
func (g *Gate) Withdraw(req Request) {
	if req.Channel == ChannelScheduled {
		return
	}
	g.cooldown.Forget(req.RequesterID)
}

// ValidateParams checks the year and week ranges.
func ValidateParams(year, week int) *Rejection {
	if year < MinYear || year > MaxYear || week < MinWeek || week > MaxWeek {
		return &Rejection{Reason: ReasonInvalidParams, Message: fmt.Sprintf("year/week out of range: %d/%d", year, week)}
	}
	return nil
}

func (g *Gate) reject(req Request, rej *Rejection) error {
	g.metrics.IncAdmission(string(req.Channel), string(rej.Reason))
	observability.WithRequester(g.logger, req.RequesterID).Info("request rejected",
		"event", "admission_rejected",
		"channel", string(req.Channel),
		"kind", req.Kind,
		"reason", string(rej.Reason),
		"wait_seconds", rej.WaitSeconds,
	)
	return rej
}
