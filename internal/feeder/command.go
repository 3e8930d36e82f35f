// Package feeder turns a run summary into a feed command and delivers it to
// the feeding mechanism over MQTT, a serial link, or the log.
package feeder

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/banshee-data/tankwatch/internal/decision"
)

// ActionFeed is the only action the feeder understands.
const ActionFeed = "feed"

// Source says who asked for a feed.
type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool { return s == SourceAuto || s == SourceManual }

// Command is the structured payload published to the command topic.
type Command struct {
	Action         string                 `json:"action" msgpack:"action"`
	Turns          int                    `json:"turns" msgpack:"turns"`
	TurnDurationMs int                    `json:"turn_duration_ms" msgpack:"turn_duration_ms"`
	GapMs          int                    `json:"gap_ms" msgpack:"gap_ms"`
	NumFish        int                    `json:"num_fish" msgpack:"num_fish"`
	AvgLengthCm    float64                `json:"avg_length_cm" msgpack:"avg_length_cm"`
	HarvestStatus  decision.HarvestStatus `json:"harvest_status" msgpack:"harvest_status"`
	Source         Source                 `json:"source" msgpack:"source"`
	RunID          string                 `json:"run_id" msgpack:"run_id"`
	Timestamp      time.Time              `json:"timestamp" msgpack:"timestamp"`
}

// NewCommand builds the command for s.
func NewCommand(s decision.Summary, source Source, now time.Time) Command {
	return Command{
		Action:         ActionFeed,
		Turns:          s.FeedingTurns,
		TurnDurationMs: s.FeedingDurationMs,
		GapMs:          s.FeedingGapMs,
		NumFish:        s.NumFish,
		AvgLengthCm:    s.AvgLengthCm,
		HarvestStatus:  s.HarvestStatus,
		Source:         source,
		RunID:          s.RunID,
		Timestamp:      now.UTC(),
	}
}

// StatusLine is the human-readable message published to the status topic.
func (c Command) StatusLine() string {
	return fmt.Sprintf("feed %d turn(s) x %dms gap %dms: %d fish avg %.2f cm (%s) source=%s run=%s",
		c.Turns, c.TurnDurationMs, c.GapMs, c.NumFish, c.AvgLengthCm, c.HarvestStatus, c.Source, c.RunID)
}

// Format is the wire encoding of a command payload.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat accepts "json" (or empty) and "msgpack".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatMsgpack:
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("unknown payload format %q: expected json or msgpack", s)
	}
}

// Encode marshals c in the given format.
func (c Command) Encode(f Format) ([]byte, error) {
	switch f {
	case "", FormatJSON:
		return json.Marshal(c)
	case FormatMsgpack:
		return msgpack.Marshal(c)
	default:
		return nil, fmt.Errorf("unknown payload format %q", f)
	}
}

// DecodeCommand is the inverse of Encode.
func DecodeCommand(f Format, data []byte) (Command, error) {
	var c Command
	var err error
	switch f {
	case "", FormatJSON:
		err = json.Unmarshal(data, &c)
	case FormatMsgpack:
		err = msgpack.Unmarshal(data, &c)
	default:
		err = fmt.Errorf("unknown payload format %q", f)
	}
	return c, err
}

// AutoPolicy decides whether a finished analysis run triggers a feed on its own.
type AutoPolicy string

const (
	AutoOff      AutoPolicy = "off"
	AutoDetected AutoPolicy = "detected"
	AutoReady    AutoPolicy = "ready"
)

// ParseAutoPolicy accepts off, detected (the default) or ready.
func ParseAutoPolicy(s string) (AutoPolicy, error) {
	switch AutoPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AutoDetected:
		return AutoDetected, nil
	case AutoOff:
		return AutoOff, nil
	case AutoReady:
		return AutoReady, nil
	default:
		return "", fmt.Errorf("unknown auto_feed policy %q: expected off, detected or ready", s)
	}
}

// ShouldDispatch reports whether s triggers an automatic feed.
func (p AutoPolicy) ShouldDispatch(s decision.Summary) bool {
	if s.NumFish <= 0 {
		return false
	}
	switch p {
	case AutoDetected:
		return true
	case AutoReady:
		return s.HarvestStatus == decision.StatusReady
	default:
		return false
	}
}
