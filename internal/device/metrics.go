package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eddy_device_pool_hits_total",
		Help: "Total number of successful buffer pool retrievals",
	})

	poolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eddy_device_pool_misses_total",
		Help: "Total number of buffer pool misses (fresh allocations)",
	})

	poolSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eddy_device_pool_size_bytes",
		Help: "Current total size of buffers parked in the pool in bytes",
	})

	dispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eddy_device_dispatches_total",
		Help: "Total number of kernel dispatches by kernel name",
	}, []string{"kernel"})

	transferBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eddy_device_transfer_bytes_total",
		Help: "Total bytes moved across the host/device boundary",
	})
)
