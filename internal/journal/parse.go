package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"scanlens/internal/logger"
	"scanlens/internal/metrics"
	"scanlens/pkg/models"
)

var (
	// ErrMalformed marks a line that is not valid JSON.
	ErrMalformed = errors.New("malformed journal line")
	// ErrNotObject marks valid JSON that is not an object.
	ErrNotObject = errors.New("journal line is not an object")
)

// now is replaced in tests.
var now = time.Now

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999Z07:00",
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseLine decodes one journal line into an Event. The record type defaults to
// "event" and is written back into Raw. Callers skip lines that return an error.
func ParseLine(line []byte, log *logger.Logger) (models.Event, error) {
	var decoded interface{}
	if err := json.Unmarshal(line, &decoded); err != nil {
		metrics.MalformedLines.WithLabelValues("json").Inc()
		return models.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	raw, ok := decoded.(map[string]interface{})
	if !ok {
		metrics.MalformedLines.WithLabelValues("not_object").Inc()
		return models.Event{}, ErrNotObject
	}

	eventType := models.FieldString(raw["type"])
	if eventType == "" {
		eventType = string(models.KindEvent)
		raw["type"] = eventType
	}

	return models.Event{
		TS:      parseTimestamp(raw["ts"], log),
		Type:    eventType,
		Payload: decodePayload(eventType, raw),
		Raw:     raw,
	}, nil
}

// parseTimestamp reads an ISO-8601 timestamp. Zone-less values are UTC;
// missing values become now, unparsable values become now with a warning.
func parseTimestamp(v interface{}, log *logger.Logger) time.Time {
	if v == nil {
		return now().UTC()
	}
	raw, ok := v.(string)
	if !ok {
		log.Warnf("Invalid timestamp '%v', defaulting to now", v)
		return now().UTC()
	}
	if t, ok := ParseTimestamp(raw); ok {
		return t
	}
	log.Warnf("Invalid timestamp '%s', defaulting to now", raw)
	return now().UTC()
}

// ParseTimestamp parses an ISO-8601 string and normalizes it to UTC.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if strings.HasSuffix(value, "z") {
		value = strings.TrimSuffix(value, "z") + "Z"
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func decodePayload(eventType string, raw map[string]interface{}) models.Payload {
	switch models.ParseKind(eventType) {
	case models.KindAgentStep:
		return &models.AgentStep{
			AgentID: getString(raw, "agent_id"),
			Target:  getString(raw, "target"),
			Action:  getString(raw, "action"),
			Tool:    getString(raw, "tool"),
			Status:  getString(raw, "status"),
			Meta:    getMap(raw, "meta"),
		}
	case models.KindVulnFound:
		return &models.VulnFound{
			AgentID:     getString(raw, "agent_id"),
			Target:      getString(raw, "target"),
			VulnID:      getString(raw, "vuln_id"),
			Severity:    getString(raw, "severity"),
			Category:    getString(raw, "category"),
			Description: getString(raw, "description"),
		}
	case models.KindToolCall:
		return &models.ToolCall{
			AgentID:       getString(raw, "agent_id"),
			Target:        getString(raw, "target"),
			Tool:          getString(raw, "tool"),
			Status:        getString(raw, "status"),
			Args:          getMap(raw, "args"),
			ResultSummary: getString(raw, "result_summary"),
			Meta:          getMap(raw, "meta"),
		}
	case models.KindScanStart:
		return &models.ScanStart{
			AgentID: getString(raw, "agent_id"),
			Target:  getString(raw, "target"),
			Action:  getString(raw, "action"),
			RunID:   getString(raw, "run_id"),
			RunName: getString(raw, "run_name"),
			Targets: getStrings(raw, "targets"),
			Meta:    getMap(raw, "meta"),
		}
	default:
		return &models.Generic{
			Type:    eventType,
			AgentID: getString(raw, "agent_id"),
			Target:  getString(raw, "target"),
			Action:  getString(raw, "action"),
			Status:  getString(raw, "status"),
			Meta:    getMap(raw, "meta"),
		}
	}
}

func getString(raw map[string]interface{}, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	return models.FieldString(v)
}

func getMap(raw map[string]interface{}, key string) map[string]interface{} {
	if m, ok := raw[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

func getStrings(raw map[string]interface{}, key string) []string {
	items, ok := raw[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := models.FieldString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
