package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FlexInt accepts a JSON number or a numeric string.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		*f = FlexInt(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// GenerateRequest is posted by the mini-app to start a report.
type GenerateRequest struct {
	InitData   string  `json:"initData"`
	ReportType string  `json:"report_type"`
	Year       FlexInt `json:"year"`
	Week       FlexInt `json:"week"`
}

// GenerateResponse acknowledges an admitted request; the report follows in chat.
type GenerateResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

// ErrorResponse is returned for every rejected or failed API call.
type ErrorResponse struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error"`
	Reason      string `json:"reason,omitempty"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}

type ScheduleMeta struct {
	Enabled    bool   `json:"enabled"`
	Cron       string `json:"cron"`
	Timezone   string `json:"timezone"`
	ReportType string `json:"report_type"`
}

// MetaResponse describes service settings to the mini-app.
type MetaResponse struct {
	OK           bool         `json:"ok"`
	Schedule     ScheduleMeta `json:"schedule"`
	ReportsCount int          `json:"reports_count"`
}

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	TS      int64  `json:"ts"`
	// EngineBusy is true while a generation holds the engine seat.
	EngineBusy bool `json:"engine_busy"`
}

// NewHealthResponse stamps a health response with the current time.
func NewHealthResponse(service string, busy bool, now time.Time) HealthResponse {
	return HealthResponse{OK: true, Service: service, TS: now.Unix(), EngineBusy: busy}
}
