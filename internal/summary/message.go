package summary

import (
	"time"

	"eventmerge/internal/model"
)

// Topic is the enrichment-request topic name.
const Topic = "event-merge-requests"

// EnrichmentMessage asks the consumer to compute a natural-language summary
// for one merged event. Times serialize as RFC 3339 strings.
type EnrichmentMessage struct {
	EventID        string     `json:"eventId"`
	UserID         string     `json:"userId"`
	MergedEventIDs []string   `json:"mergedEventIds"`
	MergedData     MergedData `json:"mergedData"`
	Timestamp      time.Time  `json:"timestamp"`
}

// MergedData is a snapshot of the merged event at merge time.
type MergedData struct {
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// NewEnrichmentMessage builds the message for a freshly merged event.
func NewEnrichmentMessage(merged model.Event, userID string, now time.Time) EnrichmentMessage {
	return EnrichmentMessage{
		EventID:        merged.ID,
		UserID:         userID,
		MergedEventIDs: merged.MergedFrom,
		MergedData: MergedData{
			Title:     merged.Title,
			StartTime: merged.StartTime,
			EndTime:   merged.EndTime,
		},
		Timestamp: now,
	}
}
