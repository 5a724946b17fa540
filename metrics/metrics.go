package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	commitmentsCounter       prometheus.Counter
	revealsSucceededCounter  prometheus.Counter
	revealsFailedCounter     *prometheus.CounterVec
	expiredCounter           prometheus.Counter
	proofPublishErrorCounter prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	m := Metrics{
		commitmentsCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_commitments_total", namespace),
			Help: "The number of accepted commitments",
		}),
		revealsSucceededCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_reveals_succeeded_total", namespace),
			Help: "The number of reveals that passed quorum verification and issued a proof",
		}),
		revealsFailedCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_reveals_failed_total", namespace),
			Help: "The number of failed reveals by failure reason",
		}, []string{"reason"}),
		expiredCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_expired_commitments_total", namespace),
			Help: "The number of commitments removed by expiry cleanup",
		}),
		proofPublishErrorCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_proof_publish_errors_total", namespace),
			Help: "The number of proof egress publish failures",
		}),
	}
	return &m
}

func (metrics *Metrics) IncCommitments() {
	metrics.commitmentsCounter.Inc()
}

func (metrics *Metrics) IncRevealsSucceeded() {
	metrics.revealsSucceededCounter.Inc()
}

func (metrics *Metrics) IncRevealsFailed(reason string) {
	metrics.revealsFailedCounter.WithLabelValues(reason).Inc()
}

func (metrics *Metrics) AddExpiredCommitments(count int) {
	metrics.expiredCounter.Add(float64(count))
}

func (metrics *Metrics) IncProofPublishErrors() {
	metrics.proofPublishErrorCounter.Inc()
}
