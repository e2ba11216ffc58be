package engine

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	polls        *prometheus.CounterVec
	pollDuration prometheus.Histogram
	current      prometheus.Gauge
	latest       prometheus.Gauge
	update       prometheus.Gauge
	provision    *prometheus.CounterVec
	lookups      *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ideinfo",
			Name:      "polls_total",
			Help:      "Probe polls by outcome.",
		}, []string{"outcome"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ideinfo",
			Name:      "poll_duration_seconds",
			Help:      "Wall time of probe invocations.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		current: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ideinfo",
			Name:      "version_current",
			Help:      "Installed version reported by the probe, -1 when unknown.",
		}),
		latest: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ideinfo",
			Name:      "version_latest",
			Help:      "Newest published version known, -1 when unknown.",
		}),
		update: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ideinfo",
			Name:      "update_available",
			Help:      "1 while the update banner is shown.",
		}),
		provision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ideinfo",
			Name:      "provision_total",
			Help:      "Script provisioning attempts by script and result.",
		}, []string{"script", "result"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ideinfo",
			Name:      "latest_lookups_total",
			Help:      "Package index lookups by result.",
		}, []string{"result"}),
	}
	m.current.Set(-1)
	m.latest.Set(-1)
	if reg != nil {
		reg.MustRegister(m.polls, m.pollDuration, m.current, m.latest, m.update, m.provision, m.lookups)
	}
	return m
}

func (m *metrics) setVersion(g prometheus.Gauge, v *int) {
	if v == nil {
		g.Set(-1)
		return
	}
	g.Set(float64(*v))
}

func (m *metrics) observeProvision(script, result string) {
	m.provision.WithLabelValues(script, result).Inc()
}
