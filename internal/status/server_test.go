package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-alerts/internal/engine"
	"market-alerts/internal/linking"
	"market-alerts/internal/resilience"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeSource struct {
	report *engine.PassReport
	link   engine.LinkStatus
}

func (f fakeSource) LastReport() (engine.PassReport, bool) {
	if f.report == nil {
		return engine.PassReport{}, false
	}
	return *f.report, true
}

func (f fakeSource) LinkStatus() engine.LinkStatus { return f.link }

func newTestServer(pingErr error, src fakeSource) *Server {
	health := resilience.NewHealthMonitor(time.Second)
	health.RegisterComponent("store", resilience.PingCheck(func(context.Context) error { return pingErr }))
	breakers := func() []resilience.CircuitBreakerStats {
		return []resilience.CircuitBreakerStats{{Name: "quotes:STOCK", State: resilience.CircuitClosed}}
	}
	return NewServer("127.0.0.1:0", health, src, breakers, zerolog.Nop())
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pingErr error
		code    int
	}{
		{"healthy GET", http.MethodGet, nil, http.StatusOK},
		{"healthy HEAD", http.MethodHead, nil, http.StatusOK},
		{"store down", http.MethodGet, errors.New("database is locked"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(tt.pingErr, fakeSource{})
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, "/healthz", nil))

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
			if tt.method == http.MethodHead {
				assert.Zero(t, w.Body.Len())
				return
			}
			var report resilience.HealthReport
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
			require.Len(t, report.Components, 1)
			assert.Equal(t, "store", report.Components[0].Name)
		})
	}
}

func TestStatus(t *testing.T) {
	src := fakeSource{
		report: &engine.PassReport{ID: "pass-1", Rules: 4, Fired: 1},
		link:   engine.LinkStatus{Cursor: 99, Last: linking.Result{Cursor: 99, Linked: 1}},
	}
	srv := newTestServer(nil, src)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		AlertPass *engine.PassReport             `json:"alert_pass"`
		Linking   engine.LinkStatus              `json:"linking"`
		Breakers  []resilience.CircuitBreakerStats `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.AlertPass)
	assert.Equal(t, "pass-1", body.AlertPass.ID)
	assert.Equal(t, 1, body.AlertPass.Fired)
	assert.Equal(t, int64(99), body.Linking.Cursor)
	assert.Equal(t, 1, body.Linking.Last.Linked)
	require.Len(t, body.Breakers, 1)
	assert.Equal(t, "quotes:STOCK", body.Breakers[0].Name)
}

func TestStatus_BeforeFirstPass(t *testing.T) {
	srv := newTestServer(nil, fakeSource{})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "null", string(body["alert_pass"]))
}

func TestRun_StopsOnCancel(t *testing.T) {
	srv := newTestServer(nil, fakeSource{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
