package models

import "time"

// OwnerMonthlyUsage is a per-organization metered counter, one row per
// metric and calendar month (period formatted as YYYY-MM).
type OwnerMonthlyUsage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"not null;uniqueIndex:ux_monthly_usage_org_metric_period,priority:1" json:"organization_id"`
	MetricKey      string    `gorm:"type:varchar(100);not null;uniqueIndex:ux_monthly_usage_org_metric_period,priority:2" json:"metric_key"`
	Period         string    `gorm:"type:varchar(7);not null;uniqueIndex:ux_monthly_usage_org_metric_period,priority:3" json:"period"`
	UsedCount      int64     `gorm:"not null;default:0" json:"used_count"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UsagePeriod formats a timestamp as the month key used by usage rows.
func UsagePeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
