package taskname

const (
	// Growth pipeline
	GrowthEventReceived    = "growth:event:received"
	GrowthPendingReconcile = "growth:pending:reconcile"

	// Archival
	GrowthArchiveRun = "growth:archive:run"
)
