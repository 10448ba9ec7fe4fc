package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"powerguard-service/internal/client"
	"powerguard-service/internal/config"
	"powerguard-service/internal/models"
	"powerguard-service/internal/util"
)

// Sink records dispatched security events for offline analysis. Recording is
// best effort: a sink failure never blocks or fails the alert path.
type Sink interface {
	RecordEvent(ctx context.Context, event *models.SecurityEvent)
}

// NopSink discards everything. Used when the analytics backends are not
// configured, e.g. in local development against the memory store.
type NopSink struct{}

func (NopSink) RecordEvent(ctx context.Context, event *models.SecurityEvent) {}

const insertEventQuery = `
	INSERT INTO security_event_audit (
		event_id, event_type, device_id, user_id, session_id,
		event_time, processed, dispatch_err,
		channels_sent, channels_skipped, channels_failed,
		recorded_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Recorder writes one audit row per dispatched event into ClickHouse and
// indexes the full event document into Elasticsearch for search.
type Recorder struct {
	clickhouse *client.ClickHouseClient
	es         *client.ESClient
	eventIndex string
	timeout    time.Duration
}

func NewRecorder(cfg *config.Config, chClient *client.ClickHouseClient, esClient *client.ESClient) *Recorder {
	return &Recorder{
		clickhouse: chClient,
		es:         esClient,
		eventIndex: cfg.Elasticsearch.EventIndex,
		timeout:    10 * time.Second,
	}
}

func (r *Recorder) RecordEvent(ctx context.Context, event *models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.recordRow(ctx, event)
	r.indexDocument(ctx, event)
}

func (r *Recorder) recordRow(ctx context.Context, event *models.SecurityEvent) {
	if r.clickhouse == nil {
		return
	}

	var sent, skipped, failed uint8
	for _, outcome := range event.Outcomes {
		switch {
		case outcome.Sent:
			sent++
		case outcome.SkippedReason != "":
			skipped++
		default:
			failed++
		}
	}

	err := r.clickhouse.Exec(ctx, insertEventQuery,
		event.EventID,
		event.EventType,
		event.DeviceID,
		event.UserID,
		event.SessionID,
		event.EventTime,
		event.Processed,
		event.DispatchErr,
		sent,
		skipped,
		failed,
		time.Now().UTC(),
	)
	if err != nil {
		util.Error("Failed to record audit row",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}

func (r *Recorder) indexDocument(ctx context.Context, event *models.SecurityEvent) {
	if r.es == nil {
		return
	}

	doc := map[string]interface{}{
		"event_id":     event.EventID,
		"event_type":   event.EventType,
		"device_id":    event.DeviceID,
		"user_id":      event.UserID,
		"session_id":   event.SessionID,
		"event_time":   event.EventTime,
		"details":      event.Details,
		"processed":    event.Processed,
		"dispatch_err": event.DispatchErr,
		"outcomes":     event.Outcomes,
	}

	res, err := r.es.IndexDocument(ctx, r.eventIndex, event.EventID, doc)
	if err != nil {
		util.Error("Failed to index audit document",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		util.Error("Elasticsearch rejected audit document",
			zap.String("event_id", event.EventID),
			zap.String("status", res.Status()))
	}
}
