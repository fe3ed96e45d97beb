package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus collectors. A nil registerer yields
// unregistered collectors, which is what tests use.
type Metrics struct {
	XPAwarded         *prometheus.CounterVec
	LevelUps          prometheus.Counter
	CapHits           prometheus.Counter
	StreakTransitions *prometheus.CounterVec
	MilestonesClaimed prometheus.Counter
	BadgesGranted     *prometheus.CounterVec
	ActivityDropped   prometheus.Counter
	BoostSyncs        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		XPAwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "progression",
			Name:      "xp_awarded_total",
			Help:      "XP granted, by action.",
		}, []string{"action"}),
		LevelUps: f.NewCounter(prometheus.CounterOpts{
			Namespace: "progression",
			Name:      "level_ups_total",
			Help:      "Levels gained across all users.",
		}),
		CapHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "progression",
			Name:      "daily_cap_hits_total",
			Help:      "XP awards refused because the daily cap was reached.",
		}),
		StreakTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "progression",
			Name:      "streak_transitions_total",
			Help:      "Daily-login transitions, by streak action.",
		}, []string{"action"}),
		MilestonesClaimed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "progression",
			Name:      "milestones_claimed_total",
			Help:      "Streak milestone rewards granted.",
		}),
		BadgesGranted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "progression",
			Name:      "badges_granted_total",
			Help:      "Streak badges granted, by badge type.",
		}, []string{"badge"}),
		ActivityDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "progression",
			Name:      "activity_dropped_total",
			Help:      "Activity events rejected because a dispatcher inbox was full.",
		}),
		BoostSyncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "progression",
			Name:      "boost_sync_runs_total",
			Help:      "Boost scheduler runs, by result.",
		}, []string{"result"}),
	}
}
