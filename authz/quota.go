package authz

import "time"

// Quota periods.
const (
	PeriodDay   = "day"
	PeriodMonth = "month"
)

// Default quota tiers. Uploaders get the daily mod-upload allowance;
// premium raises it and adds monthly storage (in MB).
const (
	UploaderDailyUploads = 10
	PremiumDailyUploads  = 100
	PremiumStorageMB     = 5120
)

// Quota resource names.
const (
	ResourceUploadMod  = "upload:mod"
	ResourceStorageMod = "storage:mod"
)

// defaultQuotas assigns provisioning-time quotas from the tenant's role
// tier. Quotas are not recomputed on later reads.
func defaultQuotas(roles []Role, now time.Time) map[string]*Quota {
	quotas := make(map[string]*Quota)

	for _, role := range roles {
		switch role {
		case RoleUploader:
			if _, ok := quotas[ResourceUploadMod]; !ok {
				quotas[ResourceUploadMod] = &Quota{
					Limit:   UploaderDailyUploads,
					Period:  PeriodDay,
					ResetAt: nextReset(PeriodDay, now),
				}
			}
		case RolePremium:
			quotas[ResourceUploadMod] = &Quota{
				Limit:   PremiumDailyUploads,
				Period:  PeriodDay,
				ResetAt: nextReset(PeriodDay, now),
			}
			quotas[ResourceStorageMod] = &Quota{
				Limit:   PremiumStorageMB,
				Period:  PeriodMonth,
				ResetAt: nextReset(PeriodMonth, now),
			}
		}
	}

	return quotas
}

// nextReset returns the unix second the window rolls over: the next UTC
// midnight for daily quotas, the first of the next UTC month for monthly.
func nextReset(period string, now time.Time) int64 {
	now = now.UTC()
	switch period {
	case PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0).Unix()
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1).Unix()
	}
}
