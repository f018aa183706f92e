/*
tree.go - Referral tree construction

PURPOSE:
  Builds a depth-capped view of a partner's downline with per-node activity
  annotations. Each recursion step queries level-1 rows relative to the
  CURRENT node, not an absolute depth - closure-table levels are always
  relative to their own PartnerID, which is what lets the same storage serve
  flat ancestor lookups and recursive descendant walks.

TERMINATION:
  Depth is clamped to [1, MaxDepth] and passed down by value, decremented at
  every step. Recursion is bounded regardless of configuration.
*/
package partner

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// TreeNode is one referral in the downline view.
type TreeNode struct {
	UserID     UserID
	Depth      int // distance from the tree root
	TotalSpent decimal.Decimal
	Active     bool // has at least one completed transaction
	Referrals  []*TreeNode
}

// Tree is the downline view rooted at a partner.
type Tree struct {
	RootID        UserID
	Depth         int // applied depth after clamping
	DirectCount   int
	TotalTeamSize int // descendants at any level, from the closure table
	Referrals     []*TreeNode
}

// TreeBuilder assembles downline trees.
type TreeBuilder struct {
	Relationships RelationshipStore
	Volume        VolumeProvider
	Config        Config
}

func NewTreeBuilder(rels RelationshipStore, volume VolumeProvider, cfg Config) *TreeBuilder {
	return &TreeBuilder{Relationships: rels, Volume: volume, Config: cfg}
}

// BuildTree returns the downline of rootID, at most maxDepth levels deep.
// maxDepth is silently clamped to [1, MaxDepth].
func (b *TreeBuilder) BuildTree(ctx context.Context, rootID UserID, maxDepth int) (*Tree, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	if maxDepth > b.Config.MaxDepth {
		maxDepth = b.Config.MaxDepth
	}

	referrals, err := b.buildChildren(ctx, rootID, 1, maxDepth)
	if err != nil {
		return nil, err
	}

	teamSize, err := b.Relationships.CountTeam(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("count team size: %w", err)
	}

	return &Tree{
		RootID:        rootID,
		Depth:         maxDepth,
		DirectCount:   len(referrals),
		TotalTeamSize: teamSize,
		Referrals:     referrals,
	}, nil
}

func (b *TreeBuilder) buildChildren(ctx context.Context, nodeID UserID, depth, maxDepth int) ([]*TreeNode, error) {
	direct, err := b.Relationships.DirectReferrals(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("load direct referrals of %s: %w", nodeID, err)
	}

	nodes := make([]*TreeNode, 0, len(direct))
	for _, rel := range direct {
		spent, err := b.Volume.SumCompletedTransactions(ctx, []UserID{rel.ReferralID})
		if err != nil {
			return nil, fmt.Errorf("sum spend of %s: %w", rel.ReferralID, err)
		}

		node := &TreeNode{
			UserID:     rel.ReferralID,
			Depth:      depth,
			TotalSpent: spent,
			Active:     spent.IsPositive(),
		}
		if depth < maxDepth {
			children, err := b.buildChildren(ctx, rel.ReferralID, depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			node.Referrals = children
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
