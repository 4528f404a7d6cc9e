package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/pinbus/internal/bus"
	"github.com/sweeney/pinbus/internal/control"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveReading(t *testing.T) {
	m := New()
	m.ObserveReading("door", control.True, true)
	m.ObserveReading("door", control.False, false)
	m.ObserveReading("window", control.Unknown, true)

	body := scrape(t, m)
	assert.Contains(t, body, `pinbus_control_readings_total{control="door",value="true"} 1`)
	assert.Contains(t, body, `pinbus_control_readings_total{control="door",value="false"} 1`)
	assert.Contains(t, body, `pinbus_control_updates_total{control="door"} 1`)
	assert.Contains(t, body, `pinbus_control_value{control="door"} 0`)
	assert.Contains(t, body, `pinbus_control_value{control="window"} -1`)
}

func TestObserveTrigger(t *testing.T) {
	m := New()
	m.ObserveTrigger("notify", nil)
	m.ObserveTrigger("notify", errors.New("exit status 1"))
	m.ObserveTrigger("notify", nil)

	body := scrape(t, m)
	assert.Contains(t, body, `pinbus_action_triggers_total{action="notify",result="ok"} 2`)
	assert.Contains(t, body, `pinbus_action_triggers_total{action="notify",result="error"} 1`)
}

func TestInstrumentCountsPublishes(t *testing.T) {
	m := New()
	rec := bus.NewRecorder()
	tr := m.Instrument(rec)

	require.NoError(t, tr.Publish("pinbus", []byte("{}")))
	rec.SetPublishError(errors.New("down"))
	assert.Error(t, tr.Publish("pinbus", []byte("{}")))

	body := scrape(t, m)
	assert.Contains(t, body, `pinbus_bus_publishes_total{result="ok",topic="pinbus"} 1`)
	assert.Contains(t, body, `pinbus_bus_publishes_total{result="error",topic="pinbus"} 1`)
	assert.Len(t, rec.Published(), 1)
}

func TestRuntimeCollectorsRegistered(t *testing.T) {
	assert.Contains(t, scrape(t, New()), "go_goroutines")
}
