package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSnapshotDerivedValues(t *testing.T) {
	c := NewCollector()
	start := time.Unix(100, 0)
	c.Connected(start)
	c.BatchSent(10)
	c.BatchSent(5)
	c.Latency(100 * time.Millisecond)
	c.Latency(300 * time.Millisecond)
	c.Sent(2, 40)
	c.Received(1, 60)
	c.Error(ErrorProtocol)
	c.Error(ErrorProtocol)
	c.Error(ErrorHeartbeat)

	s := c.Snapshot(start.Add(time.Minute))
	if s.AverageBatchSize != 7.5 {
		t.Errorf("AverageBatchSize = %v, want 7.5", s.AverageBatchSize)
	}
	if s.AverageLatency != 200*time.Millisecond {
		t.Errorf("AverageLatency = %v, want 200ms", s.AverageLatency)
	}
	if s.BytesTransferred != 100 {
		t.Errorf("BytesTransferred = %d, want 100", s.BytesTransferred)
	}
	if s.Errors != 3 || s.ErrorsByKind[ErrorProtocol] != 2 {
		t.Errorf("errors = %d %v, want 3 with 2 protocol", s.Errors, s.ErrorsByKind)
	}
	if !s.Connected || s.Uptime != time.Minute {
		t.Errorf("connected/uptime = %v/%v, want true/1m", s.Connected, s.Uptime)
	}
}

func TestResetKeepsConnection(t *testing.T) {
	c := NewCollector()
	start := time.Unix(100, 0)
	c.Connected(start)
	c.Sent(1, 10)
	c.Reconnection()
	c.Error(ErrorSend)

	c.Reset()

	s := c.Snapshot(start.Add(time.Second))
	if s.MessagesSent != 0 || s.Reconnections != 0 || s.Errors != 0 || s.BytesTransferred != 0 {
		t.Errorf("counters after Reset = %+v, want zero", s)
	}
	if !s.Connected || s.Uptime != time.Second {
		t.Errorf("Reset touched connection state: %+v", s)
	}
}

func TestEmptySnapshotAverages(t *testing.T) {
	s := NewCollector().Snapshot(time.Now())
	if s.AverageBatchSize != 0 || s.AverageLatency != 0 || s.Uptime != 0 {
		t.Errorf("empty snapshot = %+v, want zero averages", s)
	}
}

func TestExporterCollect(t *testing.T) {
	c := NewCollector()
	c.Sent(1, 1)
	c.Error(ErrorSend)
	c.Error(ErrorProtocol)

	exp := NewExporter(c, func() time.Time { return time.Unix(0, 0) })
	// 9 unlabelled series plus one errors_total series per kind.
	if got := testutil.CollectAndCount(exp); got != 11 {
		t.Errorf("CollectAndCount() = %d, want 11", got)
	}

	expected := `
# HELP rtlink_messages_sent_total Frames written to the link socket
# TYPE rtlink_messages_sent_total counter
rtlink_messages_sent_total 1
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(expected), "rtlink_messages_sent_total"); err != nil {
		t.Errorf("CollectAndCompare() error = %v", err)
	}
}

func TestServerServesMetrics(t *testing.T) {
	c := NewCollector()
	c.Reconnection()
	srv, err := NewServer("127.0.0.1:0", NewExporter(c, nil), nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "rtlink_reconnections_total 1") {
		t.Errorf("body missing reconnections counter:\n%s", body)
	}

	if err := srv.Start(); err == nil {
		t.Error("second Start() should fail")
	}
}
