// Package composition reconstructs the bill of materials behind a token: the
// batch, its template and plant, and every component batch recursively, with
// proportional carbon attribution at each level.
package composition

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"carbontrace/internal/apperr"
	"carbontrace/internal/carbon"
	applog "carbontrace/internal/log"
	"carbontrace/models"
)

const defaultConcurrency = 8

// Store is the read side of the batch repository used by the resolver.
type Store interface {
	BatchByTokenID(ctx context.Context, tokenID uint64) (*models.ProductBatch, error)
	Template(ctx context.Context, id uint) (*models.ProductTemplate, error)
	Plant(ctx context.Context, id uint) (*models.Plant, error)
}

// Node is one batch in a resolved composition tree.
type Node struct {
	TokenID  uint64                  `json:"token_id"`
	Depth    int                     `json:"depth"`
	Batch    *models.ProductBatch    `json:"batch"`
	Template *models.ProductTemplate `json:"template"`
	Plant    *models.Plant           `json:"plant"`
	// Quantity is the amount consumed by the parent; for the root it is the
	// whole batch.
	Quantity      int64 `json:"quantity"`
	CarbonShareKg int64 `json:"carbon_share_kg"`

	Children []*Node            `json:"children"`
	Expected int                `json:"expected_components"`
	Resolved int                `json:"resolved_components"`
	Skipped  []SkippedComponent `json:"skipped,omitempty"`
}

// Partial reports whether some declared components of n could not be resolved.
func (n *Node) Partial() bool {
	return n.Resolved < n.Expected
}

// SkippedComponent is a declared component left out of the tree.
type SkippedComponent struct {
	TokenID uint64 `json:"token_id"`
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
}

// Composition is the result of Resolve.
type Composition struct {
	Root      *Node      `json:"root"`
	Locations []Location `json:"locations"`
	// Expected and Resolved count component edges across the whole tree.
	Expected int `json:"expected_components"`
	Resolved int `json:"resolved_components"`
}

// Partial reports whether any level of the tree is missing components.
func (c *Composition) Partial() bool {
	return c.Resolved < c.Expected
}

// Resolver builds composition trees. It is safe for concurrent use; all
// resolutions share one cap on in-flight store reads.
type Resolver struct {
	store Store
	sem   *semaphore.Weighted
}

// NewResolver returns a Resolver reading from store with at most concurrency
// store reads in flight.
func NewResolver(store Store, concurrency int) *Resolver {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Resolver{store: store, sem: semaphore.NewWeighted(int64(concurrency))}
}

// path is the chain of token ids from the root to the node being resolved.
type path struct {
	tokenID uint64
	parent  *path
}

func (p *path) contains(tokenID uint64) bool {
	for cur := p; cur != nil; cur = cur.parent {
		if cur.tokenID == tokenID {
			return true
		}
	}
	return false
}

func (p *path) ids() []uint64 {
	var reversed []uint64
	for cur := p; cur != nil; cur = cur.parent {
		reversed = append(reversed, cur.tokenID)
	}
	ids := make([]uint64, len(reversed))
	for i, id := range reversed {
		ids[len(reversed)-1-i] = id
	}
	return ids
}

// Resolve loads tokenID and all of its components. A missing root batch fails
// with ErrNotFound and an orphaned root with ErrDataIntegrity. Components that
// cannot be resolved for either reason are skipped and counted; a cycle or a
// storage failure anywhere fails the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, tokenID uint64) (*Composition, error) {
	root, err := r.resolveNode(ctx, tokenID, 0, nil)
	if err != nil {
		return nil, err
	}
	root.Quantity = root.Batch.Quantity
	root.CarbonShareKg = root.Batch.CarbonFootprintKg

	result := &Composition{Root: root, Locations: Locations(root)}
	walk(root, func(n *Node) {
		result.Expected += n.Expected
		result.Resolved += n.Resolved
	})
	if result.Partial() {
		applog.Info(ctx, "composition partially resolved",
			"tokenID", tokenID, "expected", result.Expected, "resolved", result.Resolved)
	}
	return result, nil
}

func (r *Resolver) resolveNode(ctx context.Context, tokenID uint64, depth int, parent *path) (*Node, error) {
	if parent.contains(tokenID) {
		return nil, &apperr.CycleError{TokenID: tokenID, Path: parent.ids()}
	}

	node, err := r.load(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	node.Depth = depth

	components := node.Batch.Components
	node.Expected = len(components)
	if len(components) == 0 {
		return node, nil
	}

	here := &path{tokenID: tokenID, parent: parent}
	children := make([]*Node, len(components))
	skipped := make([]*SkippedComponent, len(components))

	g, gctx := errgroup.WithContext(ctx)
	for i, component := range components {
		i, component := i, component
		g.Go(func() error {
			child, err := r.resolveNode(gctx, component.TokenID, depth+1, here)
			switch {
			case err == nil:
				child.Quantity = component.Quantity
				child.CarbonShareKg = carbon.Share(child.Batch.CarbonFootprintKg, child.Batch.Quantity, component.Quantity)
				children[i] = child
				return nil
			case skippable(err):
				skipped[i] = &SkippedComponent{TokenID: component.TokenID, Kind: apperr.Kind(err), Reason: err.Error()}
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range components {
		if children[i] != nil {
			node.Children = append(node.Children, children[i])
			node.Resolved++
		}
		if skipped[i] != nil {
			node.Skipped = append(node.Skipped, *skipped[i])
		}
	}
	return node, nil
}

// load fetches the batch, template and plant for tokenID under the read cap.
func (r *Resolver) load(ctx context.Context, tokenID uint64) (*Node, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	batch, err := r.store.BatchByTokenID(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("resolve token %d: %w", tokenID, err)
	}

	template, err := r.store.Template(ctx, batch.TemplateID)
	if err != nil {
		return nil, r.orphaned(ctx, tokenID, batch, "template", batch.TemplateID, err)
	}
	plant, err := r.store.Plant(ctx, batch.PlantID)
	if err != nil {
		return nil, r.orphaned(ctx, tokenID, batch, "plant", batch.PlantID, err)
	}

	return &Node{TokenID: tokenID, Batch: batch, Template: template, Plant: plant}, nil
}

// orphaned converts a missing reference of an existing batch into a data
// integrity error. Other failures pass through.
func (r *Resolver) orphaned(ctx context.Context, tokenID uint64, batch *models.ProductBatch, ref string, refID uint, err error) error {
	if !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("resolve token %d %s: %w", tokenID, ref, err)
	}
	applog.Error(ctx, "orphaned batch",
		"tokenID", tokenID, "batchID", batch.ID, "batchNumber", batch.BatchNumber, "missing", ref, "refID", refID)
	return fmt.Errorf("token %d references missing %s %d: %w", tokenID, ref, refID, apperr.ErrDataIntegrity)
}

func skippable(err error) bool {
	if errors.Is(err, apperr.ErrCycleDetected) {
		return false
	}
	return errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrDataIntegrity)
}

// walk visits every node of the tree rooted at n in depth-first pre-order
// using an explicit stack.
func walk(n *Node, visit func(*Node)) {
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(cur)
		for i := len(cur.Children) - 1; i >= 0; i-- {
			stack = append(stack, cur.Children[i])
		}
	}
}
