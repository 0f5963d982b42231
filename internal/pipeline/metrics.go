package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatglass",
		Name:      "messages_ingested_total",
		Help:      "Messages accepted into the overlay buffer, by platform.",
	}, []string{"platform"})

	messagesFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatglass",
		Name:      "messages_filtered_total",
		Help:      "Messages dropped before buffering, by reason.",
	}, []string{"platform", "reason"})

	enrichPatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatglass",
		Name:      "enrich_patches_total",
		Help:      "Enrichment patches applied, by resolver.",
	}, []string{"resolver"})

	enrichMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatglass",
		Name:      "enrich_misses_total",
		Help:      "Enrichment lookups that produced no patch, by resolver.",
	}, []string{"resolver"})

	modActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatglass",
		Name:      "mod_actions_total",
		Help:      "Moderation events processed, by kind.",
	}, []string{"platform", "kind"})

	subscriberDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatglass",
		Name:      "subscriber_drops_total",
		Help:      "Updates dropped because a subscriber channel was full.",
	})

	platformConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chatglass",
		Name:      "platform_connected",
		Help:      "1 while the adapter for a platform reports connected.",
	}, []string{"platform"})
)
