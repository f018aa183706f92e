/*
closure.go - Relationship closure maintenance

PURPOSE:
  Maintains the denormalized ancestor chain when a new user attaches to a
  referral code. For a referrer with ancestors at distances 1..k, attachment
  writes (referrer, user, 1) plus (ancestor, user, d+1) for each ancestor at
  distance d < MaxDepth - up to MaxDepth rows in one atomic batch.

WHY A CLOSURE TABLE:
  Commission computation is the hot path: every completed transaction needs
  the full upline. Storing all ancestor/descendant pairs with their distance
  turns that into a single indexed read, at the cost of a few extra rows once
  at registration time. The same table serves recursive downline walks,
  because Level is always relative to its own PartnerID.

SEE ALSO:
  - commission.go: Reads the chain this writes
  - tree.go: Walks the level-1 edges recursively
*/
package partner

import (
	"context"
	"fmt"
	"time"
)

// ClosureMaintainer attaches new referrals and writes their ancestor chain.
type ClosureMaintainer struct {
	Relationships RelationshipStore
	Partners      PartnerDirectory
	Config        Config
}

func NewClosureMaintainer(rels RelationshipStore, partners PartnerDirectory, cfg Config) *ClosureMaintainer {
	return &ClosureMaintainer{Relationships: rels, Partners: partners, Config: cfg}
}

// AttachReferral links a newly registered user under a referrer. Called at
// most once per user; re-parenting is not supported.
//
// The insert is purely additive: no existing rows change. Ancestors beyond
// distance MaxDepth-1 from the referrer are not linked - they cannot reach
// the new user within the depth cap.
func (m *ClosureMaintainer) AttachReferral(ctx context.Context, newUserID, referrerID UserID) error {
	if newUserID == "" || referrerID == "" || newUserID == referrerID {
		return ErrInvalidReferrer
	}

	referrer, err := m.Partners.GetPartner(ctx, referrerID)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("lookup referrer: %w", err)
	}
	if referrer == nil || IsNotFound(err) {
		return ErrInvalidReferrer
	}

	attached, err := m.Relationships.IsAttached(ctx, newUserID)
	if err != nil {
		return fmt.Errorf("check existing attachment: %w", err)
	}
	if attached {
		return ErrAlreadyAttached
	}

	ancestors, err := m.Relationships.Ancestors(ctx, referrerID)
	if err != nil {
		return fmt.Errorf("load ancestor chain: %w", err)
	}

	now := time.Now().UTC()
	rels := make([]Relationship, 0, len(ancestors)+1)
	rels = append(rels, Relationship{
		PartnerID:  referrerID,
		ReferralID: newUserID,
		Level:      1,
		CreatedAt:  now,
	})
	for _, a := range ancestors {
		if a.Level+1 > m.Config.MaxDepth {
			continue
		}
		rels = append(rels, Relationship{
			PartnerID:  a.PartnerID,
			ReferralID: newUserID,
			Level:      a.Level + 1,
			CreatedAt:  now,
		})
	}

	// All-or-nothing: the store's uniqueness constraint on (referral, level)
	// also catches a concurrent double-attach that slipped past IsAttached.
	return m.Relationships.CreateRelationships(ctx, rels)
}
