package metrics

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/meldtp/internal/protocol"
)

type fakeStatus struct {
	connected bool
	states    map[string]string
}

func (f fakeStatus) Connected() bool            { return f.connected }
func (f fakeStatus) Transport() string          { return "webchannel" }
func (f fakeStatus) States() map[string]string { return f.states }

func TestHandler_Healthz(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		wantCode  int
	}{
		{"connected", true, http.StatusOK},
		{"disconnected", false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(fakeStatus{connected: tt.connected}, New())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.name, body["meld"])
		})
	}
}

func TestHandler_States(t *testing.T) {
	h := NewHandler(fakeStatus{states: map[string]string{"meld.currentScene": "Intro"}}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/states", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"meld.currentScene":"Intro"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "no metrics route without collectors")
}

func TestHandler_Metrics(t *testing.T) {
	c := New()
	c.ObserveCall("Scenes.GetSceneList", 20*time.Millisecond, nil)
	c.ObserveCall("Stats.GetStats", time.Second, &protocol.TimeoutError{Method: "Stats.GetStats"})
	c.SetConnectionState("connected")

	srv := httptest.NewServer(NewHandler(fakeStatus{connected: true}, c))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `meldtp_remote_calls_total{method="Scenes.GetSceneList",outcome="ok"} 1`)
	assert.Contains(t, text, `meldtp_remote_calls_total{method="Stats.GetStats",outcome="timeout"} 1`)
	assert.True(t, strings.Contains(text, `meldtp_connection_state{state="connected"} 1`))
}

func TestCollectors_Outcomes(t *testing.T) {
	c := New()
	c.ObserveAction("meld.scene.switch", nil)
	c.ObserveAction("meld.scene.switch", protocol.ErrNotConnected)
	c.ObserveAction("meld.scene.switch", &protocol.RemoteError{Message: "no"})
	c.ObserveAction("meld.scene.switch", errors.New("boom"))

	for _, o := range []string{"ok", "disconnected", "remote_error", "error"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(c.actions.WithLabelValues("meld.scene.switch", o)), o)
	}
}

func TestCollectors_NilSafe(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.ObserveCall("m", time.Millisecond, nil)
		c.SetConnectionState("connected")
		c.IncReconnect()
		c.ObserveAction("a", nil)
		c.IncStateUpdate()
		c.IncChoiceUpdate("c")
		c.IncNotification("n")
	})
	assert.Nil(t, c.Registry())
}
