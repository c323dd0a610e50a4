package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lk2023060901/filevault/internal/file/biz"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filevault",
		Name:      "uploads_total",
		Help:      "Number of upload operations, partitioned by dedup outcome.",
	}, []string{"duplicate"})

	deletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filevault",
		Name:      "deletes_total",
		Help:      "Number of delete operations, partitioned by physical outcome.",
	}, []string{"physical"})

	statTotalFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "filevault",
		Name:      "total_files",
		Help:      "Logical file records currently registered.",
	})

	statUniqueContents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "filevault",
		Name:      "unique_contents",
		Help:      "Deduplicated content records currently stored.",
	})

	statLogicalBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "filevault",
		Name:      "logical_bytes",
		Help:      "Sum of size times reference count over all contents.",
	})

	statPhysicalBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "filevault",
		Name:      "physical_bytes",
		Help:      "Sum of stored content sizes.",
	})

	statSavedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "filevault",
		Name:      "storage_saved_bytes",
		Help:      "Bytes saved by deduplication (logical minus physical).",
	})

	statDedupRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "filevault",
		Name:      "dedup_ratio",
		Help:      "Unique contents divided by total files (1.0 when empty).",
	})
)

// publishMetrics refreshes the Prometheus gauges from a stats snapshot.
func publishMetrics(m *biz.Metrics) {
	statTotalFiles.Set(float64(m.TotalFiles))
	statUniqueContents.Set(float64(m.UniqueContents))
	statLogicalBytes.Set(float64(m.LogicalSize))
	statPhysicalBytes.Set(float64(m.PhysicalSize))
	statSavedBytes.Set(float64(m.StorageSaved))
	statDedupRatio.Set(m.DedupRatio)
}
