package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/izavyalov-dev/reportd/admission"
	"github.com/izavyalov-dev/reportd/internal/observability"
	"github.com/izavyalov-dev/reportd/protocol"
	"github.com/izavyalov-dev/reportd/registry"
)

const maxRequestBody = 64 << 10

// HTTPConfig carries what the public endpoints describe about the service.
type HTTPConfig struct {
	ServiceName string
	Registry    *registry.Registry
	Schedule    protocol.ScheduleMeta
	Metrics     *observability.Metrics
	Now         func() time.Time
}

// NewHTTPHandler wires the health, catalog, metadata, generation and metrics endpoints.
func NewHTTPHandler(service *Service, cfg HTTPConfig, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = observability.NewLogger("orchestrator.http")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "reportd"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", cfg.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		busy := service != nil && service.EngineBusy()
		writeJSON(w, http.StatusOK, protocol.NewHealthResponse(cfg.ServiceName, busy, cfg.Now()))
	})

	mux.HandleFunc("/api/reports", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		catalog := []registry.Report{}
		if cfg.Registry != nil {
			catalog = cfg.Registry.Catalog()
		}
		writeJSON(w, http.StatusOK, catalog)
	})

	mux.HandleFunc("/api/meta", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		count := 0
		if cfg.Registry != nil {
			count = len(cfg.Registry.Catalog())
		}
		writeJSON(w, http.StatusOK, protocol.MetaResponse{OK: true, Schedule: cfg.Schedule, ReportsCount: count})
	})

	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if service == nil || !service.Ready() {
			writeError(w, http.StatusServiceUnavailable, "Server not ready", "")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		var msg protocol.GenerateRequest
		if err := decodeJSON(r, &msg); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON", "")
			return
		}
		ticket, err := service.SubmitSigned(r.Context(), msg.InitData, admission.Request{
			Kind:    msg.ReportType,
			Year:    int(msg.Year),
			Week:    int(msg.Week),
			Channel: admission.ChannelHTTP,
		})
		if err != nil {
			writeSubmitError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, protocol.GenerateResponse{OK: true, Message: "Report generation started", RunID: ticket.RunID})
	})

	return mux
}

func writeSubmitError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if rej, ok := admission.AsRejection(err); ok {
		switch rej.Reason {
		case admission.ReasonUnauthenticated:
			writeError(w, http.StatusForbidden, "Invalid initData", string(rej.Reason))
		case admission.ReasonUnauthorized:
			writeError(w, http.StatusForbidden, "Access denied", string(rej.Reason))
		case admission.ReasonRateLimited:
			writeJSON(w, http.StatusTooManyRequests, protocol.ErrorResponse{
				Error:       rej.Message,
				Reason:      string(rej.Reason),
				WaitSeconds: rej.WaitSeconds,
			})
		default:
			writeError(w, http.StatusBadRequest, rej.Message, string(rej.Reason))
		}
		return
	}
	if errors.Is(err, ErrNotReady) || errors.Is(err, ErrShuttingDown) {
		writeError(w, http.StatusServiceUnavailable, "Server not ready", "")
		return
	}
	logger.Error("submit failed", "event", "submit_failed", "error", err)
	writeError(w, http.StatusInternalServerError, "Internal error", "")
}

func decodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, reason string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: message, Reason: reason})
}
