package ms365

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
)

// TraceRecord is the common shape of a message trace regardless of which
// access method produced it. ReceivedDate stays a string here because the
// providers disagree on formats; ParseTraceTime interprets it.
type TraceRecord struct {
	MessageID    string
	ReceivedDate string
	Sender       string
	Recipient    string
	Subject      string
	Status       string
	Size         int64
	EventData    map[string]interface{}
	Raw          map[string]interface{}
}

// NormalizeTrace maps a raw provider record onto the common shape. The Graph
// and PowerShell cmdlet responses use different field names for the same
// data.
func NormalizeTrace(trace map[string]interface{}, source models.APIMethod) TraceRecord {
	if source == models.APIMethodPowerShell {
		return TraceRecord{
			MessageID:    stringField(trace, "MessageId"),
			ReceivedDate: stringField(trace, "Received"),
			Sender:       stringField(trace, "SenderAddress"),
			Recipient:    stringField(trace, "RecipientAddress"),
			Subject:      stringField(trace, "Subject"),
			Status:       stringField(trace, "Status"),
			Size:         int64Field(trace["Size"]),
			EventData: map[string]interface{}{
				"to_ip":            trace["ToIP"],
				"from_ip":          trace["FromIP"],
				"message_trace_id": trace["MessageTraceId"],
			},
			Raw: trace,
		}
	}

	// Graph responses carry the sender either as a plain address or nested
	// under sender.emailAddress.address.
	sender := stringField(trace, "senderAddress")
	if nested, ok := trace["sender"].(map[string]interface{}); ok {
		if email, ok := nested["emailAddress"].(map[string]interface{}); ok {
			if address := stringField(email, "address"); address != "" {
				sender = address
			}
		}
	}

	eventData, _ := trace["eventData"].(map[string]interface{})
	if eventData == nil {
		eventData = map[string]interface{}{}
	}

	return TraceRecord{
		MessageID:    firstStringField(trace, "internetMessageId", "messageId"),
		ReceivedDate: firstStringField(trace, "receivedDateTime", "received"),
		Sender:       sender,
		Recipient:    stringField(trace, "recipientAddress"),
		Subject:      stringField(trace, "subject"),
		Status:       stringField(trace, "status"),
		Size:         int64Field(trace["size"]),
		EventData:    eventData,
		Raw:          trace,
	}
}

// statusMap translates provider status strings to the stored set. Exchange
// reports GettingStatus while a trace is still being assembled; it lands as
// Pending.
var statusMap = map[string]models.TraceStatus{
	"Delivered":      models.TraceStatusDelivered,
	"Failed":         models.TraceStatusFailed,
	"Pending":        models.TraceStatusPending,
	"Expanded":       models.TraceStatusExpanded,
	"Quarantined":    models.TraceStatusQuarantined,
	"FilteredAsSpam": models.TraceStatusFiltered,
	"GettingStatus":  models.TraceStatusPending,
	"None":           models.TraceStatusNone,
}

// NormalizeStatus maps a provider status to the stored status set.
// Unrecognized values become Unknown.
func NormalizeStatus(raw string) models.TraceStatus {
	if status, ok := statusMap[raw]; ok {
		return status
	}
	return models.TraceStatusUnknown
}

// traceTimeLayouts covers Graph (RFC 3339) and PowerShell 7 (round-trip
// format) date output.
var traceTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTraceTime interprets a provider timestamp. Returns false when the
// value cannot be understood; callers skip such records. Results are in UTC.
func ParseTraceTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range traceTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}

	// Windows PowerShell 5.1 serializes DateTime as /Date(milliseconds)/,
	// optionally with a zone offset after the epoch value.
	if strings.HasPrefix(value, "/Date(") && strings.HasSuffix(value, ")/") {
		millis := strings.TrimSuffix(strings.TrimPrefix(value, "/Date("), ")/")
		if i := strings.IndexAny(millis[1:], "+-"); i >= 0 {
			millis = millis[:i+1]
		}
		if n, err := strconv.ParseInt(millis, 10, 64); err == nil {
			return time.UnixMilli(n).UTC(), true
		}
	}

	return time.Time{}, false
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func firstStringField(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s := stringField(m, key); s != "" {
			return s
		}
	}
	return ""
}

func int64Field(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
