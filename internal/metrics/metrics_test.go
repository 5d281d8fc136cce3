package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Received()
	m.Received()
	m.Dropped(DropEcho)
	m.Sent("Text")
	m.SendFailed()
	m.Reconnect()
	m.ConnectionState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.received))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues(DropEcho)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.dropped.WithLabelValues(DropDecrypt)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sent.WithLabelValues("Text")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionState))
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	m.Received()
	m.Dropped(DropDecrypt)
	m.Sent("Text")
	m.SendFailed()
	m.Reconnect()
	m.ConnectionState(1)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))
	m.Received()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "heychat_messages_received_total 1")

	assert.Error(t, m.Register(reg), "double registration")
}
