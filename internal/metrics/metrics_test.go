package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/maauso/mediaflow/internal/pipeline"
)

func TestMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric any
	}{
		{"HTTPRequestsTotal", HTTPRequestsTotal},
		{"HTTPRequestDuration", HTTPRequestDuration},
		{"HTTPRequestsInFlight", HTTPRequestsInFlight},
		{"RunsStarted", RunsStarted},
		{"RunsCompleted", RunsCompleted},
		{"RunsCancelled", RunsCancelled},
		{"RunsActive", RunsActive},
		{"RunDuration", RunDuration},
		{"ExtractionDuration", ExtractionDuration},
		{"EventsPublished", EventsPublished},
		{"EventDeliveries", EventDeliveries},
		{"EventsDropped", EventsDropped},
		{"SubscribersActive", SubscribersActive},
		{"StreamedBytes", StreamedBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestPipelineObserver(t *testing.T) {
	o := NewPipelineObserver()

	started := testutil.ToFloat64(RunsStarted)
	flagged := testutil.ToFloat64(RunsCompleted.WithLabelValues(pipeline.OutcomeFlagged))
	cancelled := testutil.ToFloat64(RunsCancelled)

	o.RunStarted()
	o.RunFinished(pipeline.OutcomeFlagged, 3*time.Second)
	o.RunCancelled()
	o.ActiveRuns(4)
	o.ExtractionFinished(time.Second)

	if got := testutil.ToFloat64(RunsStarted) - started; got != 1 {
		t.Errorf("RunsStarted delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RunsCompleted.WithLabelValues(pipeline.OutcomeFlagged)) - flagged; got != 1 {
		t.Errorf("RunsCompleted{flagged} delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RunsCancelled) - cancelled; got != 1 {
		t.Errorf("RunsCancelled delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RunsActive); got != 4 {
		t.Errorf("RunsActive = %v, want 4", got)
	}
}

func TestFanoutObserver(t *testing.T) {
	o := NewFanoutObserver()

	published := testutil.ToFloat64(EventsPublished.WithLabelValues("processing:update"))
	deliveries := testutil.ToFloat64(EventDeliveries.WithLabelValues("processing:update"))
	dropped := testutil.ToFloat64(EventsDropped.WithLabelValues("processing:update"))

	o.EventPublished("processing:update", 3)
	o.EventDropped("processing:update")
	o.SubscribersChanged(7)

	if got := testutil.ToFloat64(EventsPublished.WithLabelValues("processing:update")) - published; got != 1 {
		t.Errorf("EventsPublished delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(EventDeliveries.WithLabelValues("processing:update")) - deliveries; got != 3 {
		t.Errorf("EventDeliveries delta = %v, want 3", got)
	}
	if got := testutil.ToFloat64(EventsDropped.WithLabelValues("processing:update")) - dropped; got != 1 {
		t.Errorf("EventsDropped delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(SubscribersActive); got != 7 {
		t.Errorf("SubscribersActive = %v, want 7", got)
	}
}

func TestAddStreamedBytes(t *testing.T) {
	before := testutil.ToFloat64(StreamedBytes)
	AddStreamedBytes(100)
	AddStreamedBytes(0)
	AddStreamedBytes(-5)
	if got := testutil.ToFloat64(StreamedBytes) - before; got != 100 {
		t.Errorf("StreamedBytes delta = %v, want 100", got)
	}
}
