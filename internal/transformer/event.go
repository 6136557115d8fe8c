package transformer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gosight/pagelab/internal/enricher"
	"github.com/gosight/pagelab/internal/storage"
)

// TransformResult contains the transformed row for the event's table
type TransformResult struct {
	PageView   *storage.PageViewRow
	Conversion *storage.ConversionRow
}

// TransformEvent transforms a raw event from Kafka to a ClickHouse row
func TransformEvent(raw map[string]interface{}) (*TransformResult, error) {
	result := &TransformResult{}

	eventID := getString(raw, "event_id")
	if _, err := uuid.Parse(eventID); err != nil {
		eventID = uuid.New().String()
	}

	ts := getInt64(raw, "timestamp")
	if ts == 0 {
		ts = getInt64(raw, "server_timestamp")
	}
	timestamp := time.UnixMilli(ts)

	switch t := getString(raw, "type"); t {
	case enricher.EventPageView:
		result.PageView = &storage.PageViewRow{
			EventID:    eventID,
			PageID:     getString(raw, "page_id"),
			VisitorID:  getString(raw, "visitor_id"),
			Timestamp:  timestamp,
			Referrer:   getString(raw, "referrer"),
			Browser:    getString(raw, "browser"),
			OS:         getString(raw, "os"),
			DeviceType: getString(raw, "device_type"),
			Country:    getString(raw, "country"),
			City:       getString(raw, "city"),
			IPAddress:  getString(raw, "client_ip"),
		}
		if result.PageView.PageID == "" {
			return nil, fmt.Errorf("page view %s: missing page_id", eventID)
		}

	case enricher.EventConversion:
		result.Conversion = &storage.ConversionRow{
			EventID:    eventID,
			TestID:     getString(raw, "test_id"),
			VariantID:  getString(raw, "variant_id"),
			VisitorID:  getString(raw, "visitor_id"),
			Timestamp:  timestamp,
			Browser:    getString(raw, "browser"),
			DeviceType: getString(raw, "device_type"),
			Country:    getString(raw, "country"),
		}
		if result.Conversion.TestID == "" || result.Conversion.VariantID == "" {
			return nil, fmt.Errorf("conversion %s: missing test_id or variant_id", eventID)
		}

	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}

	return result, nil
}

func getString(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		// ids may arrive as JSON numbers
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

func getInt64(m map[string]interface{}, key string) int64 {
	if v, ok := m[key].(float64); ok {
		return int64(v)
	}
	return 0
}
