package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxDurations = 1000

type Metrics struct {
	mutex     sync.RWMutex
	projects  map[string]*projectStats
	rounds    int64
	lastRound *RoundMetrics
	startTime time.Time
}

type projectStats struct {
	successes         int64
	failures          int64
	heartbeatsCreated int64
	resourcesCreated  int64
	durations         []time.Duration
	lastSuccess       time.Time
	lastFailure       time.Time
	lastError         string
}

type Snapshot struct {
	Uptime     time.Duration             `json:"uptime"`
	Rounds     int64                     `json:"rounds"`
	Successful int64                     `json:"successful"`
	Failed     int64                     `json:"failed"`
	LastRound  *RoundMetrics             `json:"last_round,omitempty"`
	Projects   map[string]ProjectMetrics `json:"projects"`
}

type RoundMetrics struct {
	CompletedAt time.Time `json:"completed_at"`
	Total       int       `json:"total"`
	Failed      int       `json:"failed"`
}

type ProjectMetrics struct {
	Successes         int64         `json:"successes"`
	Failures          int64         `json:"failures"`
	HeartbeatsCreated int64         `json:"heartbeats_created"`
	ResourcesCreated  int64         `json:"resources_created"`
	LastSuccess       time.Time     `json:"last_success,omitempty"`
	LastFailure       time.Time     `json:"last_failure,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
	AvgDuration       time.Duration `json:"avg_duration"`
	P95Duration       time.Duration `json:"p95_duration"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		projects:  make(map[string]*projectStats),
		startTime: time.Now(),
	}
}

// stats must be called with the write lock held.
func (m *Metrics) stats(project string) *projectStats {
	ps, ok := m.projects[project]
	if !ok {
		ps = &projectStats{}
		m.projects[project] = ps
	}
	return ps
}

func (m *Metrics) RecordSuccess(project string, duration time.Duration, created bool, at time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ps := m.stats(project)
	ps.successes++
	if created {
		ps.heartbeatsCreated++
	}
	ps.lastSuccess = at
	ps.addDuration(duration)
}

func (m *Metrics) RecordFailure(project string, duration time.Duration, errMsg string, at time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ps := m.stats(project)
	ps.failures++
	ps.lastFailure = at
	ps.lastError = errMsg
	if duration > 0 {
		ps.addDuration(duration)
	}
}

func (m *Metrics) RecordResourceCreated(project string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stats(project).resourcesCreated++
}

func (m *Metrics) RecordRound(total, failed int, at time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.rounds++
	m.lastRound = &RoundMetrics{
		CompletedAt: at,
		Total:       total,
		Failed:      failed,
	}
}

func (ps *projectStats) addDuration(d time.Duration) {
	ps.durations = append(ps.durations, d)
	if len(ps.durations) > maxDurations {
		ps.durations = ps.durations[1:]
	}
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime),
		Rounds:   m.rounds,
		Projects: make(map[string]ProjectMetrics, len(m.projects)),
	}

	if m.lastRound != nil {
		lr := *m.lastRound
		snap.LastRound = &lr
	}

	for project, ps := range m.projects {
		snap.Successful += ps.successes
		snap.Failed += ps.failures

		pm := ProjectMetrics{
			Successes:         ps.successes,
			Failures:          ps.failures,
			HeartbeatsCreated: ps.heartbeatsCreated,
			ResourcesCreated:  ps.resourcesCreated,
			LastSuccess:       ps.lastSuccess,
			LastFailure:       ps.lastFailure,
			LastError:         ps.lastError,
		}

		if len(ps.durations) > 0 {
			sorted := make([]time.Duration, len(ps.durations))
			copy(sorted, ps.durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			pm.AvgDuration = average(sorted)
			pm.P95Duration = percentile(sorted, 0.95)
		}

		snap.Projects[project] = pm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
