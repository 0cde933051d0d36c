package server_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brad07/threatscope/pkg/alert"
	"github.com/brad07/threatscope/pkg/api"
	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/orchestrator"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/risk"
	"github.com/brad07/threatscope/pkg/server"
	"github.com/brad07/threatscope/plugins"
)

// Integration tests run the listening server end to end.

func startServer(t *testing.T) (*server.Server, string) {
	t.Helper()

	var sources []registry.Source
	policy := risk.DefaultPolicy()
	for _, c := range detector.PriorityOrder {
		sources = append(sources, registry.Source{
			Capability:      c,
			Location:        plugins.DefaultLocation(c),
			ConfidenceFloor: policy[c].ConfidenceFloor,
		})
	}
	reg := registry.New(nil)
	require.NoError(t, registry.NewLoader(reg, plugins.Provider(nil)).Sync(context.Background(), sources))
	t.Cleanup(reg.Close)

	agg := risk.NewAggregator(policy, nil)
	sink := alert.NewMemorySink()
	orch := orchestrator.New(reg, agg, alert.NewDispatcher(sink, agg, nil, alert.DefaultDispatcherConfig(), nil), orchestrator.DefaultConfig(), nil)

	cfg := server.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0 // Random available port
	cfg.RateLimitRPS = 0

	srv := server.New(cfg, orch, reg, nil)
	srv.SetAlerts(sink)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	return srv, fmt.Sprintf("http://%s", srv.Addr())
}

func TestServer_StartStop(t *testing.T) {
	srv := server.New(server.Config{Host: "127.0.0.1", Port: 0}, nil, registry.New(nil), nil)

	assert.False(t, srv.IsRunning(), "not running before Start")
	require.NoError(t, srv.Start())
	assert.True(t, srv.IsRunning())
	assert.Error(t, srv.Start(), "second Start fails")

	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
	assert.NoError(t, srv.Stop(), "Stop is idempotent")
}

func TestIntegration_FullWorkflow(t *testing.T) {
	_, baseURL := startServer(t)

	t.Run("ready", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	var requestID string
	t.Run("benign text", func(t *testing.T) {
		resp := postJSON(t, baseURL+"/v1/analyze", api.AnalyzeTextRequest{Text: "Hello, nice weather today"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		report := decode[risk.Report](t, resp)
		assert.Equal(t, risk.LevelInfo, report.RiskLevel)
		assert.False(t, report.Degraded)
		assert.Empty(t, report.AlertsCreated)
	})

	t.Run("eicar file", func(t *testing.T) {
		resp := postJSON(t, baseURL+"/v1/analyze/file", api.AnalyzeFileRequest{Data: eicar, Filename: "eicar.com"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		report := decode[risk.Report](t, resp)
		assert.Equal(t, detector.StatusFlagged, report.PerCapabilityResults[detector.CapabilityFileThreat].Status)
		assert.Equal(t, risk.LevelCritical, report.RiskLevel)
		require.NotEmpty(t, report.AlertsCreated)
		requestID = report.RequestID
	})

	t.Run("alerts for request", func(t *testing.T) {
		require.NotEmpty(t, requestID)
		resp, err := http.Get(baseURL + "/v1/alerts?request_id=" + requestID)
		require.NoError(t, err)
		defer resp.Body.Close()

		alerts := decode[api.AlertsResponse](t, resp)
		require.NotEmpty(t, alerts.Alerts)
		for _, a := range alerts.Alerts {
			assert.Equal(t, requestID, a.RequestID)
			assert.WithinDuration(t, time.Now(), a.CreatedAt, time.Minute)
		}
	})
}
