package monitor

import (
	"sort"

	"github.com/corectl/supervisor/internal/health"
)

// SystemHealth classifies the supervised fleet as a whole.
type SystemHealth string

const (
	SystemHealthy  SystemHealth = "healthy"
	SystemDegraded SystemHealth = "degraded"
	SystemCritical SystemHealth = "critical"
)

// Stats aggregates health across all supervised processes.
type Stats struct {
	SupervisedCount   int
	HealthyCount      int
	UnhealthyCount    int
	UnknownCount      int
	TotalChecks       int64
	TotalFailures     int64
	RecentResults     []health.Result // newest first, capped at 100
	Summary           SystemHealth
	Issues            []string
	Recommendations   []string
}

const maxStatsResults = 100

// Stats computes a point-in-time aggregate over all supervised processes.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	states := make([]HealthState, 0, len(m.processes))
	for _, s := range m.processes {
		states = append(states, copyState(&s.state))
	}
	m.mu.Unlock()

	var st Stats
	st.SupervisedCount = len(states)

	var recent []health.Result
	for _, s := range states {
		st.TotalChecks += s.TotalHealthChecks
		st.TotalFailures += s.TotalFailures
		switch s.OverallStatus {
		case health.StatusHealthy:
			st.HealthyCount++
		case health.StatusUnhealthy, health.StatusError, health.StatusTimeout:
			st.UnhealthyCount++
		default:
			st.UnknownCount++
		}
		recent = append(recent, s.RecentResults...)
	}

	sort.Slice(recent, func(i, j int) bool { return recent[i].Timestamp.After(recent[j].Timestamp) })
	if len(recent) > maxStatsResults {
		recent = recent[:maxStatsResults]
	}
	st.RecentResults = recent

	st.Summary, st.Issues, st.Recommendations = summarize(st)
	return st
}

// summarize derives the system health verdict and operator hints from the
// aggregate counters. Majority unhealthy is critical; a high failure ratio
// is degraded.
func summarize(st Stats) (SystemHealth, []string, []string) {
	var issues, recs []string

	if st.SupervisedCount == 0 {
		return SystemHealthy, nil, nil
	}

	if st.UnhealthyCount*2 > st.SupervisedCount {
		issues = append(issues, "a majority of supervised processes are unhealthy")
		recs = append(recs, "inspect recent health check results and consider manual restarts")
		return SystemCritical, issues, recs
	}

	if st.TotalChecks > 0 {
		ratio := float64(st.TotalFailures) / float64(st.TotalChecks)
		if ratio > 0.25 {
			issues = append(issues, "health check failure ratio exceeds 25%")
			recs = append(recs, "review check thresholds or raise supervision intervals")
			return SystemDegraded, issues, recs
		}
	}

	if st.UnhealthyCount > 0 {
		issues = append(issues, "some supervised processes are unhealthy")
		recs = append(recs, "check per-process health state for details")
		return SystemDegraded, issues, recs
	}

	return SystemHealthy, nil, nil
}
