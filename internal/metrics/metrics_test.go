package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordPublishAndReceive(t *testing.T) {
	m := &Metrics{startTime: StartTime()}
	m.MinWaitMs.Store(int64(^uint64(0) >> 1))

	m.RecordPublish("orders", false)
	m.RecordPublish("orders", true)
	m.RecordReceive("orders", 120, false)
	m.RecordReceive("orders", 5000, true)

	require.EqualValues(t, 2, m.MessagesPublished.Load())
	require.EqualValues(t, 1, m.MessagesDeduplicated.Load())
	require.EqualValues(t, 2, m.MessagesReceived.Load())
	require.EqualValues(t, 1, m.MessagesEmptyReceive.Load())

	qm := m.GetQueueMetrics("orders")
	require.NotNil(t, qm)
	require.EqualValues(t, 2, qm.Published.Load())
	require.EqualValues(t, 2, qm.Received.Load())
}

func TestRecordRedriveAndExpired(t *testing.T) {
	m := &Metrics{startTime: StartTime()}
	m.MinWaitMs.Store(int64(^uint64(0) >> 1))

	m.RecordRedrive("orders")
	m.RecordExpired("orders", 3)
	m.RecordExpired("orders", 0) // no-op

	require.EqualValues(t, 1, m.MessagesRedriven.Load())
	require.EqualValues(t, 3, m.MessagesExpired.Load())
}

func TestSnapshotShape(t *testing.T) {
	m := &Metrics{startTime: StartTime()}
	m.MinWaitMs.Store(int64(^uint64(0) >> 1))
	m.RecordPublish("orders", false)

	snap := m.Snapshot()
	messages, ok := snap["messages"].(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, int64(1), messages["published"])
}
