// Package metrics exposes the engine's prometheus counters. Everything is
// registered on the default registry and served next to the health
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Detections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtower_detections_total",
		Help: "Rule matches by trigger type.",
	}, []string{"trigger"})

	ActionsTaken = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtower_actions_total",
		Help: "Moderation actions executed, by action type.",
	}, []string{"action"})

	ProviderChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtower_reputation_provider_checks_total",
		Help: "External verdict provider outcomes.",
	}, []string{"provider", "outcome"})

	HeuristicHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtower_reputation_heuristic_hits_total",
		Help: "URL heuristic family matches.",
	}, []string{"family"})

	RaidsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watchtower_raids_detected_total",
		Help: "Raid detections across all guilds.",
	})

	JoinsObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtower_joins_observed_total",
		Help: "Member joins observed by the raid detector, by assessment.",
	}, []string{"assessment"})

	GraceKicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watchtower_grace_kicks_total",
		Help: "Zero-tolerance kicks issued by the grace-period monitor.",
	})

	AuditEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtower_audit_entries_total",
		Help: "Moderation trail entries recorded, by category and level.",
	}, []string{"category", "level"})
)
