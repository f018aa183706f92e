package partner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/partner-engine/partner"
	memstore "github.com/warp/partner-engine/partner/store"
)

func newTreeBuilder(m *memstore.Memory) *partner.TreeBuilder {
	return partner.NewTreeBuilder(m, m, partner.DefaultConfig())
}

// =============================================================================
// TREE SHAPE TESTS
// =============================================================================

func TestBuildTree_Shape(t *testing.T) {
	// GIVEN: A with two direct referrals B and C; B has child D
	// THEN: The tree mirrors the structure with correct depths

	m := newTestStore(t)
	cm := buildChain(t, m, "A", "B")
	attach(t, cm, m, "C", "A")
	attach(t, cm, m, "D", "B")
	builder := newTreeBuilder(m)

	tree, err := builder.BuildTree(context.Background(), "A", 5)
	require.NoError(t, err)

	assert.Equal(t, partner.UserID("A"), tree.RootID)
	assert.Equal(t, 2, tree.DirectCount)
	assert.Equal(t, 3, tree.TotalTeamSize)
	require.Len(t, tree.Referrals, 2)

	children := map[partner.UserID]*partner.TreeNode{}
	for _, n := range tree.Referrals {
		assert.Equal(t, 1, n.Depth)
		children[n.UserID] = n
	}
	require.Contains(t, children, partner.UserID("B"))
	require.Contains(t, children, partner.UserID("C"))

	require.Len(t, children["B"].Referrals, 1)
	assert.Equal(t, partner.UserID("D"), children["B"].Referrals[0].UserID)
	assert.Equal(t, 2, children["B"].Referrals[0].Depth)
	assert.Empty(t, children["C"].Referrals)
}

func TestBuildTree_DepthLimited(t *testing.T) {
	// GIVEN: Chain A <- B <- C <- D
	// WHEN: Building with depth 2
	// THEN: D is absent; C is a leaf

	m := newTestStore(t)
	buildChain(t, m, "A", "B", "C", "D")
	builder := newTreeBuilder(m)

	tree, err := builder.BuildTree(context.Background(), "A", 2)
	require.NoError(t, err)

	assert.Equal(t, 2, tree.Depth)
	require.Len(t, tree.Referrals, 1)
	b := tree.Referrals[0]
	require.Len(t, b.Referrals, 1)
	assert.Equal(t, partner.UserID("C"), b.Referrals[0].UserID)
	assert.Empty(t, b.Referrals[0].Referrals, "depth 3 must be cut off")
}

func TestBuildTree_DepthClamped(t *testing.T) {
	// Requests beyond the configured maximum behave exactly like the maximum;
	// non-positive requests are raised to 1.

	m := newTestStore(t)
	buildChain(t, m, "A", "B", "C")
	builder := newTreeBuilder(m)
	ctx := context.Background()

	wide, err := builder.BuildTree(ctx, "A", 10)
	require.NoError(t, err)
	assert.Equal(t, 5, wide.Depth)

	capped, err := builder.BuildTree(ctx, "A", 5)
	require.NoError(t, err)
	assert.Equal(t, wide.TotalTeamSize, capped.TotalTeamSize)

	shallow, err := builder.BuildTree(ctx, "A", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, shallow.Depth)
	require.Len(t, shallow.Referrals, 1)
	assert.Empty(t, shallow.Referrals[0].Referrals)
}

func TestBuildTree_ActivityAndSpend(t *testing.T) {
	// GIVEN: B spent money, C did not
	// THEN: B is active with its total, C inactive at zero

	m := newTestStore(t)
	cm := buildChain(t, m, "A", "B")
	attach(t, cm, m, "C", "A")
	recordPayment(t, m, "tx-1", "B", "150")
	recordPayment(t, m, "tx-2", "B", "50")
	builder := newTreeBuilder(m)

	tree, err := builder.BuildTree(context.Background(), "A", 5)
	require.NoError(t, err)

	nodes := map[partner.UserID]*partner.TreeNode{}
	for _, n := range tree.Referrals {
		nodes[n.UserID] = n
	}

	assert.True(t, nodes["B"].Active)
	assert.True(t, nodes["B"].TotalSpent.Equal(partner.MustDecimal("200")),
		"got %s", nodes["B"].TotalSpent)
	assert.False(t, nodes["C"].Active)
	assert.True(t, nodes["C"].TotalSpent.IsZero())
}

func TestBuildTree_EmptyDownline(t *testing.T) {
	m := newTestStore(t)
	registerPartner(t, m, "A")
	builder := newTreeBuilder(m)

	tree, err := builder.BuildTree(context.Background(), "A", 5)
	require.NoError(t, err)

	assert.Equal(t, 0, tree.DirectCount)
	assert.Equal(t, 0, tree.TotalTeamSize)
	assert.Empty(t, tree.Referrals)
}
