package cqrs

import (
	"time"

	"github.com/anguillanneuf/BizTrack/internal/models"
)

// ---------- Record queries ----------

// ListRecordsQuery reads the merged view of one kind: the viewer's records
// plus every admin's records.
type ListRecordsQuery struct {
	Kind     models.RecordKind
	ViewerID string
}

// ---------- Profile queries ----------

type GetProfileQuery struct {
	UserID string
}

// ---------- Dashboard queries ----------

// DashboardQuery derives totals and upcoming appointments as of Now.
type DashboardQuery struct {
	ViewerID string
	Now      time.Time
}

// SummaryQuery reads the owner-only ledger summary read model.
type SummaryQuery struct {
	UserID string
}
