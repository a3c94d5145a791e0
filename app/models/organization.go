package models

import "time"

// Organization is the tenant root. Membership CRUD lives outside the billing
// core; these rows exist for ownership lookups and usage counting.
type Organization struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"type:varchar(191);not null" json:"name"`
	OwnerName  string    `gorm:"type:varchar(191);not null" json:"owner_name"`
	OwnerEmail string    `gorm:"type:varchar(191);not null;index" json:"owner_email"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrganizationMember is a seat occupied by an accepted user.
type OrganizationMember struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"not null;index" json:"organization_id"`
	UserEmail      string    `gorm:"type:varchar(191);not null" json:"user_email"`
	Role           string    `gorm:"type:varchar(32);not null;default:'member'" json:"role"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

const (
	InvitationStatusPending  = "pending"
	InvitationStatusAccepted = "accepted"
	InvitationStatusRevoked  = "revoked"
)

// Invitation is a pending seat; pending invitations count against the seat
// limit together with members.
type Invitation struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"not null;index:idx_invitations_org_status,priority:1" json:"organization_id"`
	Email          string    `gorm:"type:varchar(191);not null" json:"email"`
	Status         string    `gorm:"type:varchar(16);not null;default:'pending';index:idx_invitations_org_status,priority:2" json:"status"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Project is counted against the plan's project limit.
type Project struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"not null;index" json:"organization_id"`
	Name           string    `gorm:"type:varchar(191);not null" json:"name"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
