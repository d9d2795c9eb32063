package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	identityResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sharedbag",
			Name:      "identity_resolutions_total",
			Help:      "Identity resolutions by kind and result.",
		},
		[]string{"kind", "result"},
	)

	setupTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sharedbag",
			Name:      "setup_transitions_total",
			Help:      "Setup stage transitions by target stage.",
		},
		[]string{"stage"},
	)

	embeddedWalletRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sharedbag",
			Name:      "embedded_wallet_requests_total",
			Help:      "Embedded wallet provisioning requests by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		identityResolutions,
		setupTransitions,
		embeddedWalletRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

func RecordResolution(kind, result string) {
	identityResolutions.WithLabelValues(kind, result).Inc()
}

func RecordTransition(stage string) {
	setupTransitions.WithLabelValues(stage).Inc()
}

func RecordEmbeddedWallet(outcome string) {
	embeddedWalletRequests.WithLabelValues(outcome).Inc()
}
