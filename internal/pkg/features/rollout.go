package features

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/squadbasehq/squadbase/internal/pkg/billing"
	"github.com/squadbasehq/squadbase/internal/pkg/entitlements"
)

// Resolver answers feature-flag checks. Resolution order is per-organization
// override, then the effective plan's feature list, then percentage rollout.
type Resolver struct {
	repo billing.Repository
	ent  *entitlements.Resolver
}

func NewResolver(repo billing.Repository, ent *entitlements.Resolver) *Resolver {
	return &Resolver{repo: repo, ent: ent}
}

// IsFeatureEnabled reports whether the organization can use a feature.
// Overrides win unconditionally, in both directions.
func (r *Resolver) IsFeatureEnabled(ctx context.Context, orgID uint, featureKey string) (bool, error) {
	override, err := r.repo.GetFeatureOverride(orgID, featureKey)
	if err != nil && !errors.Is(err, billing.ErrNotFound) {
		return false, fmt.Errorf("read feature override: %w", err)
	}
	if override != nil {
		return override.Enabled, nil
	}

	plan, err := r.ent.EffectivePlan(ctx, orgID)
	if err != nil {
		return false, err
	}
	if plan.HasFeature(featureKey) {
		return true, nil
	}

	rollout, err := r.repo.GetFeatureRollout(featureKey)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read feature rollout: %w", err)
	}
	subject := fmt.Sprintf("org:%d", orgID)
	return InRolloutBucket(rollout.Seed, subject, rollout.Percentage), nil
}

// InRolloutBucket deterministically assigns a subject to one of 100 buckets
// and admits it when its bucket falls under the rollout percentage. The same
// seed and subject always land in the same bucket, so a subject never
// flaps in and out of a rollout as the percentage grows.
func InRolloutBucket(seed, subject string, percentage int) bool {
	if percentage <= 0 {
		return false
	}
	if percentage >= 100 {
		return true
	}
	sum := sha256.Sum256([]byte(seed + ":" + subject))
	bucket := binary.BigEndian.Uint32(sum[:4]) % 100
	return bucket < uint32(percentage)
}
