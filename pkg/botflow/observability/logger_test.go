package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCaptureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// records decodes every JSON log line in buf.
func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds dispatch fields", func(t *testing.T) {
		logger, buf := newCaptureLogger()
		EnrichLogger(logger, "evt-1", "message", "greeter").Info("work")

		recs := records(t, buf)
		require.Len(t, recs, 1)
		assert.Equal(t, "evt-1", recs[0]["event_id"])
		assert.Equal(t, "message", recs[0]["event_key"])
		assert.Equal(t, "greeter", recs[0]["listener_id"])
	})

	t.Run("nil logger", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "a", "b", "c"))
	})
}

func TestLogHelpers(t *testing.T) {
	logger, buf := newCaptureLogger()

	LogDispatchStart(logger, "evt-1", "message", "qq")
	LogDispatchComplete(logger, "evt-1", 1.5, 3)
	LogDispatchError(logger, "evt-1", errors.New("boom"), 2)
	LogListenerStart(logger, "l1")
	LogListenerComplete(logger, "l1", "success", 0.5)
	LogListenerError(logger, "l1", errors.New("bad"))
	LogSessionStart(logger, "user-1", "sess-1")
	LogSessionFinish(logger, "user-1", "sess-1", "resolved", nil)
	LogSessionFinish(logger, "user-1", "sess-1", "failed", errors.New("oops"))

	recs := records(t, buf)
	require.Len(t, recs, 9)

	assert.Equal(t, "dispatch starting", recs[0]["msg"])
	assert.Equal(t, "qq", recs[0]["source"])
	assert.Equal(t, float64(3), recs[1]["results"])
	assert.Equal(t, "ERROR", recs[2]["level"])
	assert.Equal(t, "boom", recs[2]["error"])
	assert.Equal(t, "success", recs[4]["result"])
	assert.Equal(t, "bad", recs[5]["error"])
	assert.Equal(t, "sess-1", recs[6]["session_id"])
	assert.NotContains(t, recs[7], "error")
	assert.Equal(t, "oops", recs[8]["error"])
}

func TestLogHelpersNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogDispatchStart(nil, "", "", "")
		LogDispatchComplete(nil, "", 0, 0)
		LogDispatchError(nil, "", errors.New("x"), 0)
		LogListenerStart(nil, "")
		LogListenerComplete(nil, "", "", 0)
		LogListenerError(nil, "", errors.New("x"))
		LogSessionStart(nil, "", "")
		LogSessionFinish(nil, "", "", "", nil)
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), float64(4))
}
