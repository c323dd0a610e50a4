package biz

// Metrics is a deduplication statistics snapshot.
type Metrics struct {
	TotalFiles     int64   `json:"total_files"`     // 逻辑文件记录数
	UniqueContents int64   `json:"unique_contents"` // 去重后的内容数
	LogicalSize    int64   `json:"logical_size"`    // Σ size × ref_count
	PhysicalSize   int64   `json:"physical_size"`   // Σ size
	StorageSaved   int64   `json:"storage_saved"`   // logical − physical
	DedupRatio     float64 `json:"dedup_ratio"`     // unique / total，空库为 1.0
}

// deriveMetrics computes the snapshot figures from the raw aggregates.
func deriveMetrics(totalFiles int64, agg *ContentAggregates) *Metrics {
	m := &Metrics{
		TotalFiles:     totalFiles,
		UniqueContents: agg.UniqueContents,
		LogicalSize:    agg.LogicalSize,
		PhysicalSize:   agg.PhysicalSize,
		StorageSaved:   agg.LogicalSize - agg.PhysicalSize,
		DedupRatio:     1.0,
	}
	if totalFiles > 0 {
		m.DedupRatio = float64(agg.UniqueContents) / float64(totalFiles)
	}
	return m
}
