package flashsale

import (
	"time"

	"flashsale/internal/apperr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	purchaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_purchase_total",
		Help: "Purchase attempts by outcome.",
	}, []string{"outcome"})

	purchaseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flashsale_purchase_duration_seconds",
		Help:    "End-to-end purchase latency including cache reserve and ledger commit.",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	compensationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_compensation_total",
		Help: "Cache compensations after failed commits.",
	}, []string{"result"})

	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_reconcile_total",
		Help: "Cache reconciliation runs by result.",
	}, []string{"result"})
)

func observePurchase(err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	purchaseTotal.WithLabelValues(outcome).Inc()
	purchaseDuration.Observe(elapsed.Seconds())
}
