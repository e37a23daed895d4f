package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tixmarket/go/internal/channels"
	"github.com/mcdev12/tixmarket/go/internal/config"
	"github.com/mcdev12/tixmarket/go/internal/dispatcher"
	"github.com/mcdev12/tixmarket/go/internal/eventlog"
	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/payload"
	"github.com/mcdev12/tixmarket/go/internal/transfer"
)

type okPinger struct{}

func (okPinger) PingContext(context.Context) error { return nil }

func testServices(t *testing.T) *Services {
	t.Helper()
	clock := clockwork.NewFakeClock()
	registry := prometheus.NewRegistry()
	d, err := dispatcher.New(
		dispatcher.Config{Name: "notifications"},
		eventlog.NewMemoryStore(clock),
		eventlog.NewMemoryCheckpoints(),
		payload.NewBuilder(nil, nil, ""),
		[]channels.Channel{channels.NewLogChannel("email")},
		[]dispatcher.Route{{Channel: "email"}},
		dispatcher.WithMetrics(dispatcher.NewPrometheusMetrics(registry, "notifications")),
		dispatcher.WithClock(clock),
	)
	require.NoError(t, err)

	checker := dispatcher.NewHealthChecker(d, dispatcher.HealthConfig{DB: okPinger{}, Clock: clock})
	registry.MustRegister(dispatcher.NewHealthCollector(checker))

	return &Services{
		Dispatchers: []*dispatcher.Dispatcher{d},
		Health:      map[string]*dispatcher.HealthChecker{"notifications": checker},
		Registry:    registry,
	}
}

func TestServer_Health(t *testing.T) {
	srv := httptest.NewServer(setupServer(&config.Config{Port: "0"}, testServices(t)).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// the dispatcher was never started
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Healthy     bool                      `json:"healthy"`
		Dispatchers []dispatcher.HealthStatus `json:"dispatchers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Healthy)
	require.Len(t, body.Dispatchers, 1)
	assert.Equal(t, "notifications", body.Dispatchers[0].Dispatcher)
	assert.False(t, body.Dispatchers[0].Running)
}

func TestServer_Metrics(t *testing.T) {
	srv := httptest.NewServer(setupServer(&config.Config{Port: "0"}, testServices(t)).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dispatcher_healthy{dispatcher="notifications"} 0`)
	assert.Contains(t, string(body), `dispatcher_lag_events{dispatcher="notifications"} 0`)
}

func TestServer_TransferService(t *testing.T) {
	srv := httptest.NewServer(setupServer(&config.Config{Port: "0"}, testServices(t)).Handler)
	defer srv.Close()

	client := transfer.NewTransferServiceClient(srv.Client(), srv.URL)
	_, err := client.Receive(context.Background(), connect.NewRequest(&transfer.ReceiveRequest{
		Authorization: models.TransferAuthorization{NumTickets: 1},
	}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	resp, err := http.Post(srv.URL+transfer.TransferServiceReceiveProcedure, "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
