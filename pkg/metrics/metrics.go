package metrics

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gridboost/gridboost/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes the outcome of the daily calculation as Prometheus
// metrics. A nil Recorder records nothing.
type Recorder struct {
	calculatedSOC prometheus.Gauge
	appliedSOC    prometheus.Gauge
	requiredPct   prometheus.Gauge
	lastSuccess   prometheus.Gauge
	pvRatio       *prometheus.GaugeVec
	tickFailures  *prometheus.CounterVec
	writes        *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

// register registers c on reg. If an equal collector is already registered
// the existing one is returned.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// New registers the metrics on reg. If reg is nil, the default registerer is
// used.
func New(reg prometheus.Registerer) (*Recorder, error) {
	gatherer := prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	r := &Recorder{gatherer: gatherer}
	var err error
	if r.calculatedSOC, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gridboost_calculated_soc_percent",
		Help: "Boost SoC calculated by the last daily tick",
	})); err != nil {
		return nil, err
	}
	if r.appliedSOC, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gridboost_applied_soc_percent",
		Help: "Boost SoC sent to the inverter by the last daily tick",
	})); err != nil {
		return nil, err
	}
	if r.requiredPct, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gridboost_required_percent",
		Help: "Worst cumulative shortfall before the buffer in percent of capacity",
	})); err != nil {
		return nil, err
	}
	if r.lastSuccess, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gridboost_last_success_timestamp_seconds",
		Help: "Unix time of the last successful daily tick",
	})); err != nil {
		return nil, err
	}
	if r.pvRatio, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridboost_pv_ratio",
		Help: "Actual over forecast PV ratio per hour of day",
	}, []string{"hour"})); err != nil {
		return nil, err
	}
	if r.tickFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridboost_tick_failures_total",
		Help: "Ticks that failed, by kind",
	}, []string{"tick"})); err != nil {
		return nil, err
	}
	if r.writes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridboost_inverter_writes_total",
		Help: "Inverter writes by outcome",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	return r, nil
}

// RecordResult updates the gauges from a daily result.
func (r *Recorder) RecordResult(res types.BoostResult) {
	if r == nil {
		return
	}
	r.calculatedSOC.Set(float64(res.CalculatedSOC))
	r.appliedSOC.Set(float64(res.AppliedSOC))
	r.requiredPct.Set(res.RequiredPct)
	r.lastSuccess.Set(float64(res.Timestamp.Unix()))
	for _, h := range res.PVRatio.Hours() {
		r.pvRatio.WithLabelValues(strconv.Itoa(h)).Set(res.PVRatio.At(h))
	}
	switch {
	case res.WriteError != "":
		r.writes.WithLabelValues("error").Inc()
	case res.Written:
		r.writes.WithLabelValues("ok").Inc()
	default:
		r.writes.WithLabelValues("skipped").Inc()
	}
}

// RecordTickFailure counts a failed tick of the given kind.
func (r *Recorder) RecordTickFailure(kind string) {
	if r == nil {
		return
	}
	r.tickFailures.WithLabelValues(kind).Inc()
}

// Handler serves the metrics of the registry the Recorder was created with.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
