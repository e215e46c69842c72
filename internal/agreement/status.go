package agreement

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Status is the ledger-owned agreement status. The ledger gateway reports it
// inconsistently as either a numeric code or a string, so all external input
// goes through ParseStatus; anything unparseable becomes StatusUnknown and
// is never silently coerced to a default.
type Status int

const (
	StatusUnknown Status = iota
	StatusInitialized
	StatusReady
	StatusActive
	StatusPaid
	StatusCompleted
	StatusDefaulted
)

var statusNames = map[Status]string{
	StatusUnknown:     "UNKNOWN",
	StatusInitialized: "INITIALIZED",
	StatusReady:       "READY",
	StatusActive:      "ACTIVE",
	StatusPaid:        "PAID",
	StatusCompleted:   "COMPLETED",
	StatusDefaulted:   "DEFAULTED",
}

// Numeric codes as emitted by the ledger contract.
var statusCodes = map[int64]Status{
	0: StatusInitialized,
	1: StatusReady,
	2: StatusActive,
	3: StatusPaid,
	4: StatusCompleted,
	5: StatusDefaulted,
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDefaulted
}

// MarshalJSON renders the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either representation the ledger uses.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseStatus(raw)
	return nil
}

// ParseStatus is the total parsing function from any external status
// representation. It accepts enum names (any case), numeric codes, and the
// stringified forms of those codes.
func ParseStatus(v any) Status {
	switch val := v.(type) {
	case Status:
		return val
	case string:
		return parseStatusString(val)
	case int:
		return parseStatusCode(int64(val))
	case int64:
		return parseStatusCode(val)
	case float64:
		if val == float64(int64(val)) {
			return parseStatusCode(int64(val))
		}
		return StatusUnknown
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return parseStatusCode(n)
		}
		return StatusUnknown
	default:
		return StatusUnknown
	}
}

func parseStatusString(s string) Status {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	if trimmed == "" {
		return StatusUnknown
	}
	for status, name := range statusNames {
		if name == trimmed && status != StatusUnknown {
			return status
		}
	}
	if code, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return parseStatusCode(code)
	}
	return StatusUnknown
}

func parseStatusCode(code int64) Status {
	if status, ok := statusCodes[code]; ok {
		return status
	}
	return StatusUnknown
}

// allowedTransitions enforces the agreement lifecycle:
// INITIALIZED -> READY -> ACTIVE -> (PAID <-> ACTIVE per cycle) -> COMPLETED,
// with DEFAULTED reachable from ACTIVE/PAID. COMPLETED and DEFAULTED are
// terminal.
var allowedTransitions = map[Status][]Status{
	StatusInitialized: {StatusReady, StatusActive},
	StatusReady:       {StatusActive},
	StatusActive:      {StatusPaid, StatusCompleted, StatusDefaulted},
	StatusPaid:        {StatusActive, StatusCompleted, StatusDefaulted},
	StatusCompleted:   {},
	StatusDefaulted:   {},
}

// CanTransition checks whether a status transition is allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	allowed, exists := allowedTransitions[from]
	if !exists {
		return false
	}
	for _, next := range allowed {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the allowed next statuses for a given status.
func AllowedTransitions(from Status) []Status {
	allowed, exists := allowedTransitions[from]
	if !exists {
		return []Status{}
	}
	return allowed
}
