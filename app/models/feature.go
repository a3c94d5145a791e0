package models

import "time"

// FeatureOverride pins a feature on or off for one organization, beating
// both plan defaults and percentage rollouts.
type FeatureOverride struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"not null;uniqueIndex:ux_feature_overrides_org_key,priority:1" json:"organization_id"`
	FeatureKey     string    `gorm:"type:varchar(100);not null;uniqueIndex:ux_feature_overrides_org_key,priority:2" json:"feature_key"`
	Enabled        bool      `gorm:"not null" json:"enabled"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FeatureRollout enables a feature for a stable percentage bucket of
// organizations.
type FeatureRollout struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	FeatureKey string    `gorm:"type:varchar(100);not null;uniqueIndex:ux_feature_rollouts_key" json:"feature_key"`
	Percentage int       `gorm:"not null;default:0" json:"percentage"`
	Seed       string    `gorm:"type:varchar(100);not null;default:''" json:"seed"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
