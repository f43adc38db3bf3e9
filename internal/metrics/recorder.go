// Package metrics exports checkout and poll outcomes as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"integrity-scm/internal/integrity"
)

// Recorder is a CheckoutRecorder backed by its own Prometheus registry, so a
// short-lived CLI run can write exactly the metrics it produced.
type Recorder struct {
	registry *prometheus.Registry

	builds          *prometheus.CounterVec
	changes         *prometheus.GaugeVec
	membersFetched  *prometheus.CounterVec
	membersIgnored  *prometheus.CounterVec
	membersDeleted  *prometheus.CounterVec
	membersSkipped  *prometheus.CounterVec
	sessionRefreshes *prometheus.CounterVec
	pollChanges     *prometheus.GaugeVec
	polls           *prometheus.CounterVec
}

var _ integrity.CheckoutRecorder = (*Recorder)(nil)

// NewRecorder creates a recorder with every collector registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iscm_checkout_builds_total",
				Help: "Number of completed checkouts.",
			},
			[]string{"job"},
		),
		changes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "iscm_checkout_changes",
				Help: "Change count of the last checkout.",
			},
			[]string{"job"},
		),
		membersFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iscm_checkout_members_total",
				Help: "Members checked out, by change-log action.",
			},
			[]string{"job", "action"},
		),
		membersIgnored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iscm_checkout_members_ignored_total",
				Help: "Member checkouts that failed with a tolerated error.",
			},
			[]string{"job"},
		),
		membersDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iscm_checkout_members_deleted_total",
				Help: "Dropped members removed from the workspace.",
			},
			[]string{"job"},
		),
		membersSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iscm_checkout_members_skipped_total",
				Help: "Unchanged members left in place.",
			},
			[]string{"job"},
		),
		sessionRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iscm_session_refreshes_total",
				Help: "Sessions replaced after reaching the use threshold.",
			},
			[]string{"job"},
		),
		pollChanges: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "iscm_poll_changes",
				Help: "Change count of the last poll.",
			},
			[]string{"job"},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iscm_polls_total",
				Help: "Number of polls.",
			},
			[]string{"job"},
		),
	}
	r.registry.MustRegister(
		r.builds, r.changes,
		r.membersFetched, r.membersIgnored, r.membersDeleted, r.membersSkipped,
		r.sessionRefreshes, r.pollChanges, r.polls,
	)
	return r
}

// Registry exposes the underlying registry, e.g. for promhttp.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RecordCheckout(jobName string, changes int, result *integrity.CheckoutResult) {
	r.builds.WithLabelValues(jobName).Inc()
	r.changes.WithLabelValues(jobName).Set(float64(changes))
	if result == nil {
		return
	}
	for action, n := range result.ByAction {
		r.membersFetched.WithLabelValues(jobName, action).Add(float64(n))
	}
	r.membersIgnored.WithLabelValues(jobName).Add(float64(result.Ignored))
	r.membersDeleted.WithLabelValues(jobName).Add(float64(result.Deleted))
	r.membersSkipped.WithLabelValues(jobName).Add(float64(result.Skipped))
	r.sessionRefreshes.WithLabelValues(jobName).Add(float64(result.Refreshes))
}

func (r *Recorder) RecordPoll(jobName string, changes int) {
	r.polls.WithLabelValues(jobName).Inc()
	r.pollChanges.WithLabelValues(jobName).Set(float64(changes))
}

// WriteTextfile writes the collected metrics in the text exposition format,
// for pickup by the node exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
