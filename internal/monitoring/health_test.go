package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guru-systems/phi4-mini/internal/analysis"
)

type stubAnalyzer struct {
	mu      sync.Mutex
	ready   bool
	err     error
	prompts []string
}

func (s *stubAnalyzer) IsReady() bool { return s.ready }

func (s *stubAnalyzer) CognitiveAnalysis(_ context.Context, prompt string) (*analysis.Phi4Analysis, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	a := analysis.New(0.8, "insight")
	a.AddPattern("layered", 0.9)
	return a, nil
}

func (s *stubAnalyzer) AnalyzeProject(_ context.Context, systemPrompt, analysisPrompt string) (*analysis.Report, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, systemPrompt+"|"+analysisPrompt)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	a := analysis.New(0.8, "insight")
	a.SetArchitecturalAnalysis(analysis.ArchitecturalAnalysis{
		OptimizationSuggestions: []string{"Cache results. Saves time"},
	})
	r := analysis.BuildReport(a)
	r.RequestID = "req-1"
	return r, nil
}

func newTestServer(a Analyzer) (*Server, *httptest.Server) {
	s := NewServer(a, EngineInfo{ModelPath: "phi4.onnx", MaxLength: 2048, MaxInputTokens: 1548}, "test")
	return s, httptest.NewServer(s.Handler())
}

func post(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		ready  bool
		alert  string
		status string
		code   int
	}{
		{"healthy", true, "", "healthy", http.StatusOK},
		{"not ready", false, "", "critical", http.StatusServiceUnavailable},
		{"error alert", true, "error", "degraded", http.StatusServiceUnavailable},
		{"warning alert", true, "warning", "healthy", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ts := newTestServer(&stubAnalyzer{ready: tt.ready})
			defer ts.Close()
			if tt.alert != "" {
				s.AddAlert(tt.alert, "engine", "boom")
			}

			for _, path := range []string{"/health", "/healthz"} {
				resp, err := http.Get(ts.URL + path)
				require.NoError(t, err)
				var body map[string]string
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				resp.Body.Close()

				assert.Equal(t, tt.code, resp.StatusCode, path)
				assert.Equal(t, tt.status, body["status"], path)
			}
		})
	}
}

func TestResolvedAlertRestoresHealth(t *testing.T) {
	s, ts := newTestServer(&stubAnalyzer{ready: true})
	defer ts.Close()

	s.AddAlert("critical", "executor", "unreachable")
	require.Equal(t, "critical", s.healthStatus().Status)

	s.ResolveAlert(0)
	require.Equal(t, "healthy", s.healthStatus().Status)
	require.NotNil(t, s.healthStatus().Alerts[0].ResolvedAt)
}

func TestStatus(t *testing.T) {
	s, ts := newTestServer(&stubAnalyzer{ready: true})
	defer ts.Close()

	s.RecordAnalysis(100*time.Millisecond, nil)
	s.RecordAnalysis(300*time.Millisecond, errors.New("executor down"))

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))

	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "test", status.Version)
	assert.True(t, status.Engine.Ready)
	assert.Equal(t, 1548, status.Engine.MaxInputTokens)
	assert.Equal(t, 2, status.Performance.Analyses)
	assert.Equal(t, 1, status.Performance.Failures)
	assert.InDelta(t, 200, status.Performance.AvgLatencyMs, 0.001)
	assert.InDelta(t, 300, status.Performance.P95LatencyMs, 0.001)
	assert.InDelta(t, 0.5, status.Performance.ErrorRate, 0.001)
	require.Len(t, status.Alerts, 1)
	assert.Contains(t, status.Alerts[0].Message, "executor down")
}

func TestAlertsAdmin(t *testing.T) {
	s, ts := newTestServer(&stubAnalyzer{ready: true})
	defer ts.Close()

	s.AddAlert("warning", "sink", "slow")

	resp, err := http.Get(ts.URL + "/admin/alerts")
	require.NoError(t, err)
	var alerts []Alert
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&alerts))
	resp.Body.Close()
	require.Len(t, alerts, 1)
	assert.Equal(t, "sink", alerts[0].Component)

	resp, err = http.Get(ts.URL + "/admin/clear-alerts")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = post(t, ts.URL+"/admin/clear-alerts", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, s.healthStatus().Alerts)
}

func TestAlertHistoryIsBounded(t *testing.T) {
	s := NewServer(&stubAnalyzer{ready: true}, EngineInfo{}, "test")
	for i := 0; i < maxAlerts+10; i++ {
		s.AddAlert("info", "system", "tick")
	}
	assert.Len(t, s.healthStatus().Alerts, maxAlerts)
}

func TestAnalyzeAPI(t *testing.T) {
	stub := &stubAnalyzer{ready: true}
	_, ts := newTestServer(stub)
	defer ts.Close()

	resp, body := post(t, ts.URL+"/api/analyze", `{"systemPrompt":"sys","analysisPrompt":"look"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-1", body["requestId"])
	assert.Equal(t, "code", body["detectedDomain"])
	recs := body["recommendations"].([]interface{})
	require.Len(t, recs, 1)
	assert.Equal(t, "high", recs[0].(map[string]interface{})["priority"])

	// An empty body leaves the defaults to the engine.
	resp, _ = post(t, ts.URL+"/api/analyze", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"sys|look", "|"}, stub.prompts)
}

func TestAnalyzeAPI_Errors(t *testing.T) {
	tests := []struct {
		name   string
		stub   *stubAnalyzer
		method string
		body   string
		code   int
		errMsg string
	}{
		{"wrong method", &stubAnalyzer{ready: true}, http.MethodGet, "", http.StatusMethodNotAllowed, "method not allowed"},
		{"bad json", &stubAnalyzer{ready: true}, http.MethodPost, "{", http.StatusBadRequest, "invalid request body"},
		{"not ready", &stubAnalyzer{}, http.MethodPost, "{}", http.StatusServiceUnavailable, "engine not ready"},
		{"engine error", &stubAnalyzer{ready: true, err: errors.New("executor down")}, http.MethodPost, "{}",
			http.StatusInternalServerError, "Phi-4 analysis failed: executor down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ts := newTestServer(tt.stub)
			defer ts.Close()

			req, err := http.NewRequest(tt.method, ts.URL+"/api/analyze", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Contains(t, body["error"], tt.errMsg)

			if tt.stub.err != nil {
				assert.Equal(t, 1, s.healthStatus().Performance.Failures)
			}
		})
	}
}

func TestCognitiveAPI(t *testing.T) {
	stub := &stubAnalyzer{ready: true}
	_, ts := newTestServer(stub)
	defer ts.Close()

	resp, body := post(t, ts.URL+"/api/cognitive", `{"prompt":"why"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 0.8, body["confidence"], 1e-6)
	pd := body["pattern_detection"].(map[string]interface{})
	assert.Equal(t, []interface{}{"layered"}, pd["detected_patterns"])
	assert.Equal(t, []string{"why"}, stub.prompts)

	resp, body = post(t, ts.URL+"/api/cognitive", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "prompt is required", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(&stubAnalyzer{ready: true})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	s := NewServer(&stubAnalyzer{ready: true}, EngineInfo{}, "test")

	done := make(chan error, 1)
	go func() { done <- s.Start("127.0.0.1:0") }()

	// Stop may race the listener setup; retry until Start returns.
	deadline := time.After(5 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		require.NoError(t, s.Stop(ctx))
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, http.ErrServerClosed)
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("server did not stop")
		}
	}
}
