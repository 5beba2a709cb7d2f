// Package parse classifies raw relay lines into frames, handshakes and
// relay status reports. Every matcher is total: garbage never produces an
// error, only an Unrecognized result.
package parse

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"telemetry-logger/models"
)

// Kind identifies what a line turned out to be.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindFrame
	KindHandshake
	KindRelayStatus
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindHandshake:
		return "handshake"
	case KindRelayStatus:
		return "relay_status"
	default:
		return "unrecognized"
	}
}

// Reason explains why a line was not recognized.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonEmpty       Reason = "empty"
	ReasonSeparator   Reason = "separator"
	ReasonMalformed   Reason = "malformed" // looked like JSON or DATA: but failed to decode
	ReasonUnsupported Reason = "unsupported"
)

// Result is the outcome of Parse. Exactly one of Frame, Handshake, Status
// is meaningful, selected by Kind.
type Result struct {
	Kind      Kind
	Frame     models.SensorFrame
	Handshake models.HandshakeEvent
	Status    models.RelayStatus
	Reason    Reason
}

func unrecognized(r Reason) Result { return Result{Kind: KindUnrecognized, Reason: r} }

// Wire markers emitted by the relay firmware.
const (
	dataPrefix     = "DATA:"
	helloMarker    = "Received HELLO from Node ID:"
	welcomeMarker  = "WELCOME:"
	uptimeMarker   = "Server Uptime:"
	clientsMarker  = "DEBUG: WiFi SoftAP Connected Clients"
	minDataFields  = 10
	minSeparatorSz = 10
	tsScale        = 1000 // node ts is milliseconds; frames store microseconds
)

// relayMarkers prefix a JSON payload forwarded by the relay.
var relayMarkers = []string{
	"Processed UDP from Queue:",
	"Received UDP from",
}

var (
	uptimeRe  = regexp.MustCompile(`Server Uptime:\s*(\d+)\s*seconds`)
	clientsRe = regexp.MustCompile(`(\d+)\s*clients?\s*$`)
)

// matcher tries to interpret a trimmed line. ok=false hands the line to
// the next matcher; reason records why this matcher rejected a line that
// looked like its format.
type matcher func(line string) (res Result, ok bool, reason Reason)

var matchers = []matcher{
	matchJSON,
	matchData,
	matchHandshake,
	matchRelayStatus,
}

// Parse classifies one line. It never panics and never returns an error.
func Parse(line string) Result {
	line = strings.TrimSpace(line)
	if line == "" {
		return unrecognized(ReasonEmpty)
	}
	if isSeparator(line) {
		return unrecognized(ReasonSeparator)
	}

	reason := ReasonUnsupported
	for _, m := range matchers {
		res, ok, why := m(line)
		if ok {
			return res
		}
		if why != ReasonNone {
			reason = why
		}
	}
	return unrecognized(reason)
}

func isSeparator(line string) bool {
	return len(line) >= minSeparatorSz && strings.Trim(line, "-") == ""
}

// ─── JSON form ──────────────────────────────────────────────────────────

var requiredKeys = []string{"id", "ax", "ay", "az", "gx", "gy", "gz", "ts"}

func jsonCandidate(line string) string {
	for _, marker := range relayMarkers {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		rest := line[idx+len(marker):]
		if brace := strings.IndexByte(rest, '{'); brace >= 0 {
			return strings.TrimSpace(rest[brace:])
		}
		return strings.TrimSpace(rest)
	}
	return line
}

func matchJSON(line string) (Result, bool, Reason) {
	candidate := jsonCandidate(line)
	if !strings.HasPrefix(candidate, "{") || !strings.HasSuffix(candidate, "}") {
		return Result{}, false, ReasonNone
	}

	var obj map[string]any
	if err := sonic.UnmarshalString(candidate, &obj); err != nil {
		return Result{}, false, ReasonMalformed
	}
	for _, k := range requiredKeys {
		if _, ok := obj[k]; !ok {
			return Result{}, false, ReasonMalformed
		}
	}

	id, ok := asID(obj["id"])
	if !ok {
		return Result{}, false, ReasonMalformed
	}
	var axes [6]float64
	for i, k := range requiredKeys[1:7] {
		v, ok := asFloat(obj[k])
		if !ok {
			return Result{}, false, ReasonMalformed
		}
		axes[i] = v
	}
	ts, ok := asTimestamp(obj["ts"])
	if !ok {
		return Result{}, false, ReasonMalformed
	}

	return frameResult(id, axes, ts), true, ReasonNone
}

func asID(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		id := strings.TrimSpace(t)
		return id, id != ""
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case string:
		return parseFloat(t)
	default:
		return 0, false
	}
}

// asTimestamp truncates fractional milliseconds the way an integer cast would.
func asTimestamp(v any) (uint64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || t < 0 || t > math.MaxUint64/tsScale {
			return 0, false
		}
		return uint64(t), true
	case string:
		return parseMillis(t)
	default:
		return 0, false
	}
}

// ─── DATA: form ─────────────────────────────────────────────────────────

// matchData handles DATA:<id>:<seq>:<ts_ms>:<ax>:<ay>:<az>:<gx>:<gy>:<gz>.
func matchData(line string) (Result, bool, Reason) {
	if !strings.HasPrefix(line, dataPrefix) {
		return Result{}, false, ReasonNone
	}
	fields := strings.Split(line, ":")
	if len(fields) < minDataFields {
		return Result{}, false, ReasonMalformed
	}

	id := strings.TrimSpace(fields[1])
	if id == "" {
		return Result{}, false, ReasonMalformed
	}
	ts, ok := parseMillis(fields[3])
	if !ok {
		return Result{}, false, ReasonMalformed
	}
	var axes [6]float64
	for i := range axes {
		v, ok := parseFloat(fields[4+i])
		if !ok {
			return Result{}, false, ReasonMalformed
		}
		axes[i] = v
	}

	return frameResult(id, axes, ts), true, ReasonNone
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseMillis(s string) (uint64, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || v > math.MaxUint64/tsScale {
		return 0, false
	}
	return v, true
}

func frameResult(id string, axes [6]float64, tsMillis uint64) Result {
	return Result{
		Kind: KindFrame,
		Frame: models.SensorFrame{
			NodeID:      id,
			AX:          axes[0],
			AY:          axes[1],
			AZ:          axes[2],
			GX:          axes[3],
			GY:          axes[4],
			GZ:          axes[5],
			TimestampUs: tsMillis * tsScale,
		},
	}
}

// ─── Handshakes ─────────────────────────────────────────────────────────

func matchHandshake(line string) (Result, bool, Reason) {
	var id string
	switch {
	case strings.Contains(line, helloMarker):
		rest := strings.TrimSpace(line[strings.Index(line, helloMarker)+len(helloMarker):])
		id = firstToken(rest)
	case strings.Contains(line, welcomeMarker):
		rest := line[strings.Index(line, welcomeMarker)+len(welcomeMarker):]
		id, _, _ = strings.Cut(rest, ":")
		id = strings.TrimSpace(id)
	default:
		return Result{}, false, ReasonNone
	}
	if id == "" {
		return Result{}, false, ReasonMalformed
	}
	return Result{Kind: KindHandshake, Handshake: models.HandshakeEvent{NodeID: id}}, true, ReasonNone
}

func firstToken(s string) string {
	end := strings.IndexAny(s, " \t:,;")
	if end < 0 {
		return s
	}
	return s[:end]
}

// ─── Relay status ───────────────────────────────────────────────────────

func matchRelayStatus(line string) (Result, bool, Reason) {
	switch {
	case strings.Contains(line, uptimeMarker):
		m := uptimeRe.FindStringSubmatch(line)
		if m == nil {
			return Result{}, false, ReasonMalformed
		}
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return Result{}, false, ReasonMalformed
		}
		return Result{Kind: KindRelayStatus, Status: models.RelayStatus{UptimeSeconds: &v}}, true, ReasonNone

	case strings.Contains(line, clientsMarker):
		m := clientsRe.FindStringSubmatch(line)
		if m == nil {
			return Result{}, false, ReasonMalformed
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return Result{}, false, ReasonMalformed
		}
		return Result{Kind: KindRelayStatus, Status: models.RelayStatus{ConnectedClients: &v}}, true, ReasonNone
	}
	return Result{}, false, ReasonNone
}
