// Package metrics collects session and navigation metrics for prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the navigation, auth and session layers report into.
type Recorder interface {
	AuthEvent(signedIn bool)
	StaleAuthResult()
	CorruptSession(reason string)
	Navigation(kind string)
	GateSubstitution(view string)
	SignInResult(outcome string)
	SessionsActive(n int)
}

type Collector struct {
	authEvents     *prometheus.CounterVec
	staleResults   prometheus.Counter
	corrupt        *prometheus.CounterVec
	navigations    *prometheus.CounterVec
	gateSubstitute *prometheus.CounterVec
	signIns        *prometheus.CounterVec
	sessions       prometheus.Gauge
}

// NewCollector registers all metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medai_auth_events_total",
			Help: "Auth state change events delivered to navigation controllers",
		}, []string{"state"}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medai_auth_stale_results_total",
			Help: "Profile resolutions discarded because a newer auth event arrived",
		}),
		corrupt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medai_corrupt_sessions_total",
			Help: "Sessions forced out because a role or profile document was missing",
		}, []string{"reason"}),
		navigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medai_navigations_total",
			Help: "Navigation transitions by kind",
		}, []string{"kind"}),
		gateSubstitute: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medai_gate_substitutions_total",
			Help: "Role gated views replaced by home",
		}, []string{"view"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medai_signin_results_total",
			Help: "Sign in attempts by outcome",
		}, []string{"outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medai_sessions_active",
			Help: "Browser sessions currently held in memory",
		}),
	}

	reg.MustRegister(
		c.authEvents,
		c.staleResults,
		c.corrupt,
		c.navigations,
		c.gateSubstitute,
		c.signIns,
		c.sessions,
	)

	return c
}

func (c *Collector) AuthEvent(signedIn bool) {
	state := "signed_out"
	if signedIn {
		state = "signed_in"
	}
	c.authEvents.WithLabelValues(state).Inc()
}

func (c *Collector) StaleAuthResult() {
	c.staleResults.Inc()
}

func (c *Collector) CorruptSession(reason string) {
	c.corrupt.WithLabelValues(reason).Inc()
}

func (c *Collector) Navigation(kind string) {
	c.navigations.WithLabelValues(kind).Inc()
}

func (c *Collector) GateSubstitution(view string) {
	c.gateSubstitute.WithLabelValues(view).Inc()
}

func (c *Collector) SignInResult(outcome string) {
	c.signIns.WithLabelValues(outcome).Inc()
}

func (c *Collector) SessionsActive(n int) {
	c.sessions.Set(float64(n))
}

// Handler serves the metrics registered on gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) AuthEvent(bool)          {}
func (Nop) StaleAuthResult()        {}
func (Nop) CorruptSession(string)   {}
func (Nop) Navigation(string)       {}
func (Nop) GateSubstitution(string) {}
func (Nop) SignInResult(string)     {}
func (Nop) SessionsActive(int)      {}
