// Package billing implements the subscription lifecycle: plan catalog,
// AbacatePay checkout sessions, webhook/reconciliation processing and
// dunning math.
package billing

import (
	"math"

	"github.com/squadbasehq/squadbase/app/models"
)

const (
	PlanFree     = "free"
	PlanPro      = "pro"
	PlanBusiness = "business"
)

// Feature keys granted by plans.
const (
	FeatureCustomDomain    = "custom_domain"
	FeatureAuditLog        = "audit_log"
	FeaturePrioritySupport = "priority_support"
)

const (
	// DefaultTrialPlanCode is the tier new organizations trial on.
	DefaultTrialPlanCode = PlanPro
	// DefaultTrialDays is the length of the single per-organization trial.
	DefaultTrialDays = 14
)

// PlanDefinition describes one plan's limits, features and pricing. A nil
// limit means unlimited.
type PlanDefinition struct {
	Code              string
	Name              string
	MonthlyPriceCents int64
	AnnualDiscount    float64
	MaxUsers          *int
	MaxProjects       *int
	MonthlyQuota      *int64
	Features          []string
}

// IsPaid reports whether the plan carries a price.
func (p PlanDefinition) IsPaid() bool {
	return p.MonthlyPriceCents > 0
}

// HasFeature reports whether the plan includes a feature.
func (p PlanDefinition) HasFeature(key string) bool {
	for _, f := range p.Features {
		if f == key {
			return true
		}
	}
	return false
}

// AmountCents returns the charge amount for a billing cycle: the monthly
// price, or twelve months minus the annual discount, rounded to the cent.
func (p PlanDefinition) AmountCents(billingCycle string) int64 {
	if billingCycle == models.BillingCycleAnnual {
		return int64(math.Round(float64(p.MonthlyPriceCents) * 12 * (1 - p.AnnualDiscount)))
	}
	return p.MonthlyPriceCents
}

// BillingPeriodDays returns how many days of coverage one payment buys.
func BillingPeriodDays(billingCycle string) int {
	if billingCycle == models.BillingCycleAnnual {
		return 365
	}
	return 30
}

// Catalog is an immutable plan-code lookup table injected into the
// entitlement resolver and checkout orchestrator.
type Catalog map[string]PlanDefinition

// Get returns a plan definition; unknown codes fall back to the free plan.
func (c Catalog) Get(code string) (PlanDefinition, bool) {
	p, ok := c[code]
	if !ok {
		return c[PlanFree], false
	}
	return p, true
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

// DefaultCatalog returns the production plan table.
func DefaultCatalog() Catalog {
	return Catalog{
		PlanFree: {
			Code:         PlanFree,
			Name:         "Free",
			MaxUsers:     intPtr(1),
			MaxProjects:  intPtr(3),
			MonthlyQuota: int64Ptr(100),
		},
		PlanPro: {
			Code:              PlanPro,
			Name:              "Pro",
			MonthlyPriceCents: 4990,
			AnnualDiscount:    0.20,
			MaxUsers:          intPtr(10),
			MaxProjects:       intPtr(50),
			MonthlyQuota:      int64Ptr(5000),
			Features:          []string{FeatureCustomDomain},
		},
		PlanBusiness: {
			Code:              PlanBusiness,
			Name:              "Business",
			MonthlyPriceCents: 14990,
			AnnualDiscount:    0.20,
			Features:          []string{FeatureCustomDomain, FeatureAuditLog, FeaturePrioritySupport},
		},
	}
}
