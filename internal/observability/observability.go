package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkbridge_punches_total",
			Help: "ATTLOG lines by serial and outcome (accepted, duplicate, rejected).",
		},
		[]string{"serial", "outcome"},
	)
	DeviceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkbridge_device_requests_total",
			Help: "Device protocol requests by serial and kind.",
		},
		[]string{"serial", "kind"},
	)
	ForwardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkbridge_forwards_total",
			Help: "Punch forward attempts by outcome (sent, failed).",
		},
		[]string{"outcome"},
	)
	RowsLoadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zkbridge_rows_loaded_total",
			Help: "Journal entries absorbed into the attendance store.",
		},
	)
	CommandsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zkbridge_commands_issued_total",
			Help: "Device commands handed out on getrequest polls.",
		},
	)
)

func init() {
	prometheus.MustRegister(PunchesTotal, DeviceRequestsTotal, ForwardsTotal, RowsLoadedTotal, CommandsIssuedTotal)
}

func Handler() http.Handler { return promhttp.Handler() }
