package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eddy_engine_steps_total",
		Help: "Total lattice update steps executed",
	})

	readbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eddy_engine_readbacks_total",
		Help: "Total device-to-host field readbacks",
	})

	mlupsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eddy_engine_mlups",
		Help: "Throughput of the last completed run in million lattice updates per second",
	})

	vramBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eddy_engine_device_bytes",
		Help: "Device memory held by the current resource set in bytes",
	})
)
