package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/izavyalov-dev/reportd/protocol"
)

const callbackPrefix = "gen:"

var (
	// ErrMalformed means a chat payload could not be read as a report request.
	ErrMalformed = errors.New("telegram: malformed report request")
	// ErrUnsupportedAction means a mini-app message asked for something other than a report.
	ErrUnsupportedAction = errors.New("telegram: unsupported mini-app action")
)

type reportArgs struct {
	Kind string
	Year int
	Week int
}

// parseReportCommand reads "/report <year> <week> [kind]". A bare "/report"
// returns ok=false so the caller can offer a menu instead.
func parseReportCommand(text, defaultKind string) (args reportArgs, ok bool, err error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !isCommand(fields[0], "report") {
		return reportArgs{}, false, fmt.Errorf("%w: not a report command", ErrMalformed)
	}
	fields = fields[1:]
	switch len(fields) {
	case 0:
		return reportArgs{}, false, nil
	case 2, 3:
	default:
		return reportArgs{}, false, fmt.Errorf("%w: usage /report <year> <week> [kind]", ErrMalformed)
	}
	year, err := strconv.Atoi(fields[0])
	if err != nil {
		return reportArgs{}, false, fmt.Errorf("%w: year %q", ErrMalformed, fields[0])
	}
	week, err := strconv.Atoi(fields[1])
	if err != nil {
		return reportArgs{}, false, fmt.Errorf("%w: week %q", ErrMalformed, fields[1])
	}
	args = reportArgs{Kind: defaultKind, Year: year, Week: week}
	if len(fields) == 3 {
		args.Kind = fields[2]
	}
	return args, true, nil
}

// isCommand matches "/name" and "/name@botname".
func isCommand(token, name string) bool {
	token, _, _ = strings.Cut(token, "@")
	return token == "/"+name
}

// parseCallback reads inline button data of the form gen:<kind>:<year>:<week>.
func parseCallback(data string) (reportArgs, error) {
	rest, ok := strings.CutPrefix(data, callbackPrefix)
	if !ok {
		return reportArgs{}, fmt.Errorf("%w: callback %q", ErrMalformed, data)
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 3 || parts[0] == "" {
		return reportArgs{}, fmt.Errorf("%w: callback %q", ErrMalformed, data)
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return reportArgs{}, fmt.Errorf("%w: callback year %q", ErrMalformed, parts[1])
	}
	week, err := strconv.Atoi(parts[2])
	if err != nil {
		return reportArgs{}, fmt.Errorf("%w: callback week %q", ErrMalformed, parts[2])
	}
	return reportArgs{Kind: parts[0], Year: year, Week: week}, nil
}

func callbackData(kind string, year, week int) string {
	return fmt.Sprintf("%s%s:%d:%d", callbackPrefix, kind, year, week)
}

type webAppPayload struct {
	Action     string           `json:"action"`
	ReportType string           `json:"report_type"`
	Year       protocol.FlexInt `json:"year"`
	Week       protocol.FlexInt `json:"week"`
}

// parseWebAppData reads the JSON a mini-app sends through the chat.
func parseWebAppData(data, defaultKind string) (reportArgs, error) {
	var payload webAppPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return reportArgs{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if payload.Action != "report" {
		return reportArgs{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, payload.Action)
	}
	kind := payload.ReportType
	if kind == "" {
		kind = defaultKind
	}
	return reportArgs{Kind: kind, Year: int(payload.Year), Week: int(payload.Week)}, nil
}
