package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(runID string) Event {
	return Event{
		RunID:     runID,
		Kind:      KindTick,
		Timestamp: "2026-08-28T12:00:00Z",
		Payload:   json.RawMessage(`{"timestamp":"t"}`),
	}
}

func TestAppendAssignsSequentialIDs(t *testing.T) {
	led, err := Open(t.TempDir(), 100)
	require.NoError(t, err)
	defer led.Close()

	for i := 1; i <= 5; i++ {
		id, err := led.Append(testEvent("run"))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), id)
		// Count includes unflushed events, before any flush happened.
		assert.Equal(t, uint64(i), led.TotalEvents())
	}
}

func TestAppendRejectsPreassignedID(t *testing.T) {
	led, err := Open(t.TempDir(), 100)
	require.NoError(t, err)
	defer led.Close()

	ev := testEvent("run")
	ev.EventID = 42
	_, err = led.Append(ev)
	assert.ErrorIs(t, err, ErrPreassignedID)
	assert.Equal(t, uint64(0), led.TotalEvents())
}

func TestReopenResumesIDContinuity(t *testing.T) {
	dir := t.TempDir()

	led, err := Open(dir, 10)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := led.Append(testEvent("run"))
		require.NoError(t, err)
	}
	require.NoError(t, led.Close())

	led2, err := Open(dir, 10)
	require.NoError(t, err)
	defer led2.Close()

	assert.Equal(t, uint64(3), led2.TotalEvents())

	id, err := led2.Append(testEvent("run"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id, "next id must be previous max + 1")
}

func TestBatchBoundaryPersistsWithoutFlush(t *testing.T) {
	const batchSize = 3
	led, err := Open(t.TempDir(), batchSize)
	require.NoError(t, err)
	defer led.Close()

	for i := 0; i < batchSize-1; i++ {
		_, err := led.Append(testEvent("run"))
		require.NoError(t, err)
	}
	size, err := led.StorageSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size, "nothing durable before the batch fills")

	_, err = led.Append(testEvent("run"))
	require.NoError(t, err)

	size, err = led.StorageSizeBytes()
	require.NoError(t, err)
	assert.Greater(t, size, uint64(0), "a full batch persists synchronously")
}

func TestFlushIdempotent(t *testing.T) {
	led, err := Open(t.TempDir(), 10)
	require.NoError(t, err)
	defer led.Close()

	_, err = led.Append(testEvent("run"))
	require.NoError(t, err)

	require.NoError(t, led.Flush())
	size1, err := led.StorageSizeBytes()
	require.NoError(t, err)

	require.NoError(t, led.Flush())
	size2, err := led.StorageSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, size1, size2)
}

func TestMetaLastWriteWinsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	led, err := Open(dir, 10)
	require.NoError(t, err)
	require.NoError(t, led.SetMeta("gateway_url", "ws://old"))
	require.NoError(t, led.SetMeta("gateway_url", "ws://new"))
	require.NoError(t, led.SetMeta("daemon_started_at", "2026-08-28T12:00:00Z"))
	require.NoError(t, led.Close())

	led2, err := Open(dir, 10)
	require.NoError(t, err)
	defer led2.Close()

	v, ok := led2.GetMeta("gateway_url")
	require.True(t, ok)
	assert.Equal(t, "ws://new", v)
}

func TestSecondWriterIsLockedOut(t *testing.T) {
	dir := t.TempDir()

	led, err := Open(dir, 10)
	require.NoError(t, err)
	defer led.Close()

	_, err = Open(dir, 10)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestInspectWhileWriterHoldsLock(t *testing.T) {
	dir := t.TempDir()

	led, err := Open(dir, 2)
	require.NoError(t, err)
	defer led.Close()

	for i := 0; i < 4; i++ {
		_, err := led.Append(testEvent("run"))
		require.NoError(t, err)
	}
	require.NoError(t, led.SetMeta("daemon_started_at", "2026-08-28T12:00:00Z"))

	info, err := Inspect(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), info.TotalEvents)
	assert.Equal(t, uint64(4), info.MaxEventID)
	assert.Greater(t, info.StorageSizeBytes, uint64(0))
	assert.Equal(t, "2026-08-28T12:00:00Z", info.Meta["daemon_started_at"])
}

func TestReopenSkipsTornLine(t *testing.T) {
	dir := t.TempDir()

	led, err := Open(dir, 1)
	require.NoError(t, err)
	_, err = led.Append(testEvent("run"))
	require.NoError(t, err)
	require.NoError(t, led.Close())

	// Simulate a torn write from a crash mid-flush.
	f, err := os.OpenFile(filepath.Join(dir, eventsFileName), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"eventId":2,"runId":"run","ki`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	led2, err := Open(dir, 1)
	require.NoError(t, err)
	defer led2.Close()

	assert.Equal(t, uint64(1), led2.TotalEvents())
	id, err := led2.Append(testEvent("run"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)
}

func TestAppendPreservesOrder(t *testing.T) {
	dir := t.TempDir()

	led, err := Open(dir, 100)
	require.NoError(t, err)
	runs := []string{"a", "b", "c", "d"}
	for _, r := range runs {
		_, err := led.Append(testEvent(r))
		require.NoError(t, err)
	}
	require.NoError(t, led.Close())

	data, err := os.ReadFile(filepath.Join(dir, eventsFileName))
	require.NoError(t, err)

	var got []string
	for _, line := range splitLines(data) {
		var ev Event
		require.NoError(t, json.Unmarshal(line, &ev))
		got = append(got, ev.RunID)
	}
	assert.Equal(t, runs, got)
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	return lines
}
