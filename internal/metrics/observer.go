package metrics

import (
	"time"

	"github.com/maauso/mediaflow/internal/fanout"
	"github.com/maauso/mediaflow/internal/pipeline"
)

// pipelineObserver implements pipeline.Observer using the collectors in metrics.go.
type pipelineObserver struct{}

// NewPipelineObserver creates an observer that records run lifecycle metrics.
func NewPipelineObserver() pipeline.Observer {
	return &pipelineObserver{}
}

func (o *pipelineObserver) RunStarted() {
	RunsStarted.Inc()
}

func (o *pipelineObserver) RunCancelled() {
	RunsCancelled.Inc()
}

func (o *pipelineObserver) RunFinished(outcome string, elapsed time.Duration) {
	RunsCompleted.WithLabelValues(outcome).Inc()
	RunDuration.Observe(elapsed.Seconds())
}

func (o *pipelineObserver) ExtractionFinished(elapsed time.Duration) {
	ExtractionDuration.Observe(elapsed.Seconds())
}

func (o *pipelineObserver) ActiveRuns(n int) {
	RunsActive.Set(float64(n))
}

// fanoutObserver implements fanout.Observer.
type fanoutObserver struct{}

// NewFanoutObserver creates an observer that records broker metrics.
func NewFanoutObserver() fanout.Observer {
	return &fanoutObserver{}
}

func (o *fanoutObserver) EventPublished(name string, delivered int) {
	EventsPublished.WithLabelValues(name).Inc()
	EventDeliveries.WithLabelValues(name).Add(float64(delivered))
}

func (o *fanoutObserver) EventDropped(name string) {
	EventsDropped.WithLabelValues(name).Inc()
}

func (o *fanoutObserver) SubscribersChanged(active int) {
	SubscribersActive.Set(float64(active))
}
