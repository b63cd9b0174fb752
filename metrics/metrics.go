// Package metrics exposes the engine's Prometheus counters. Everything is
// registered on the default registry and served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tournament_engine",
		Name:      "matches_settled_total",
		Help:      "Matches that reached a terminal state, by outcome kind.",
	}, []string{"kind"})

	RoundsAdvanced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tournament_engine",
		Name:      "rounds_advanced_total",
		Help:      "Round frontier advancements across all tournaments.",
	})

	AdvanceConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tournament_engine",
		Name:      "advance_conflicts_total",
		Help:      "Round advancements lost to a concurrent winner.",
	})

	TournamentsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tournament_engine",
		Name:      "tournaments_completed_total",
		Help:      "Tournaments that reached the completed state.",
	})

	SessionsBound = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tournament_engine",
		Name:      "sessions_bound_total",
		Help:      "Game sessions bound to matches.",
	})

	ConfirmationsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tournament_engine",
		Name:      "confirmations_swept_total",
		Help:      "Results auto-confirmed by the confirmation sweeper.",
	})
)
