package websocket

import (
	"sync"
	"time"

	"github.com/maheshalyana/letterflow/pkg/observability"
)

// MetricsCollector aggregates gateway metrics and forwards them to the
// metrics client when one is configured.
type MetricsCollector struct {
	client observability.MetricsClient
	mu     sync.Mutex

	totalConnections  uint64
	activeConnections uint64
	failedConnections uint64

	messagesReceived uint64
	messagesSent     uint64
	messagesDropped  uint64

	sessionsCreated uint64
	sessionsEvicted uint64

	snapshotsWritten uint64
	snapshotsFailed  uint64
}

func NewMetricsCollector(client observability.MetricsClient) *MetricsCollector {
	return &MetricsCollector{client: client}
}

func (mc *MetricsCollector) RecordConnection() {
	mc.mu.Lock()
	mc.totalConnections++
	mc.activeConnections++
	active := mc.activeConnections
	mc.mu.Unlock()

	if mc.client != nil {
		mc.client.IncrementCounter("websocket_connections_total", 1)
		mc.client.RecordGauge("websocket_connections_active", float64(active), nil)
	}
}

func (mc *MetricsCollector) RecordDisconnection(duration time.Duration) {
	mc.mu.Lock()
	if mc.activeConnections > 0 {
		mc.activeConnections--
	}
	active := mc.activeConnections
	mc.mu.Unlock()

	if mc.client != nil {
		mc.client.RecordGauge("websocket_connections_active", float64(active), nil)
		mc.client.RecordHistogram("websocket_connection_duration_seconds", duration.Seconds(), nil)
	}
}

func (mc *MetricsCollector) RecordConnectionFailure(reason string) {
	mc.mu.Lock()
	mc.failedConnections++
	mc.mu.Unlock()

	if mc.client != nil {
		mc.client.IncrementCounterWithLabels("websocket_connection_failures_total", 1,
			map[string]string{"reason": reason})
	}
}

func (mc *MetricsCollector) RecordMessage(direction, messageType string) {
	mc.mu.Lock()
	if direction == "received" {
		mc.messagesReceived++
	} else {
		mc.messagesSent++
	}
	mc.mu.Unlock()

	if mc.client != nil {
		mc.client.IncrementCounterWithLabels("websocket_messages_total", 1,
			map[string]string{"direction": direction, "type": messageType})
	}
}

func (mc *MetricsCollector) RecordMessageDropped(reason string) {
	mc.mu.Lock()
	mc.messagesDropped++
	mc.mu.Unlock()

	if mc.client != nil {
		mc.client.IncrementCounterWithLabels("websocket_messages_dropped_total", 1,
			map[string]string{"reason": reason})
	}
}

func (mc *MetricsCollector) RecordError(kind string) {
	if mc.client != nil {
		mc.client.IncrementCounterWithLabels("websocket_errors_total", 1,
			map[string]string{"kind": kind})
	}
}

func (mc *MetricsCollector) RecordSessionCreated() {
	mc.mu.Lock()
	mc.sessionsCreated++
	mc.mu.Unlock()

	if mc.client != nil {
		mc.client.IncrementCounter("sessions_created_total", 1)
	}
}

func (mc *MetricsCollector) RecordSessionEvicted(flushed bool) {
	mc.mu.Lock()
	mc.sessionsEvicted++
	mc.mu.Unlock()

	if mc.client != nil {
		mc.client.IncrementCounterWithLabels("sessions_evicted_total", 1,
			map[string]string{"flushed": boolLabel(flushed)})
	}
}

func (mc *MetricsCollector) RecordPersistence(success bool) {
	mc.mu.Lock()
	if success {
		mc.snapshotsWritten++
	} else {
		mc.snapshotsFailed++
	}
	mc.mu.Unlock()

	if mc.client != nil {
		mc.client.IncrementCounterWithLabels("snapshot_writes_total", 1,
			map[string]string{"success": boolLabel(success)})
	}
}

func (mc *MetricsCollector) RecordSweep(flushed, failed int, duration time.Duration) {
	if mc.client != nil {
		mc.client.RecordHistogram("snapshot_sweep_duration_seconds", duration.Seconds(), nil)
		mc.client.RecordGauge("snapshot_sweep_flushed", float64(flushed), nil)
		mc.client.RecordGauge("snapshot_sweep_failed", float64(failed), nil)
	}
}

// Stats returns a point-in-time copy of the counters for the health
// endpoint.
func (mc *MetricsCollector) Stats() map[string]uint64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return map[string]uint64{
		"connections_total":  mc.totalConnections,
		"connections_active": mc.activeConnections,
		"connections_failed": mc.failedConnections,
		"messages_received":  mc.messagesReceived,
		"messages_sent":      mc.messagesSent,
		"messages_dropped":   mc.messagesDropped,
		"sessions_created":   mc.sessionsCreated,
		"sessions_evicted":   mc.sessionsEvicted,
		"snapshots_written":  mc.snapshotsWritten,
		"snapshots_failed":   mc.snapshotsFailed,
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
