package services

import (
	"context"
	"sort"

	"github.com/monopilot/monopilot/modules/warehouse/domain/ports"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/monopilot/monopilot/pkg/httperr"
)

// LineageBuilder walks genealogy edges breadth-first from one LP. Ancestors
// get negative levels, descendants positive. A visited set and a hard depth
// cap keep a corrupted (cyclic) graph from looping.
type LineageBuilder struct {
	store ports.LedgerStore
	rt    runtime
}

func NewLineageBuilder(store ports.LedgerStore, opts ...Option) LineageBuilder {
	return LineageBuilder{store: store, rt: newRuntime(opts)}
}

type walkDirection int

const (
	walkUp   walkDirection = -1
	walkDown walkDirection = 1
)

func (b LineageBuilder) Build(ctx context.Context, tenantID string, lpID string, opts types.LineageOptions) (types.Lineage, error) {
	if opts.MaxDepth < 0 {
		return types.Lineage{}, httperr.NewBadRequest("max_depth must be >= 0")
	}
	switch opts.Direction {
	case "":
		opts.Direction = types.LineageBoth
	case types.LineageBoth, types.LineageAncestors, types.LineageDescendants:
	default:
		return types.Lineage{}, httperr.NewBadRequest("direction must be one of both, ancestors, descendants")
	}

	root, err := b.store.GetLicensePlate(ctx, tenantID, lpID)
	if err != nil {
		return types.Lineage{}, mapStoreError(err, "License plate not found")
	}

	out := types.Lineage{LPID: root.ID}
	nodes := []types.LineageNode{nodeFromLP(root, 0)}
	visited := map[string]bool{root.ID: true}

	if opts.Direction != types.LineageDescendants {
		found, more, truncated, err := b.walk(ctx, tenantID, root.ID, walkUp, opts, visited)
		if err != nil {
			return types.Lineage{}, err
		}
		nodes = append(nodes, found...)
		out.HasMoreAncestors = more
		out.Truncated = out.Truncated || truncated
	}
	if opts.Direction != types.LineageAncestors {
		found, more, truncated, err := b.walk(ctx, tenantID, root.ID, walkDown, opts, visited)
		if err != nil {
			return types.Lineage{}, err
		}
		nodes = append(nodes, found...)
		out.HasMoreDescendants = more
		out.Truncated = out.Truncated || truncated
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Level != nodes[j].Level {
			return nodes[i].Level < nodes[j].Level
		}
		return nodes[i].LPNumber < nodes[j].LPNumber
	})
	out.Nodes = nodes
	return out, nil
}

func (b LineageBuilder) walk(ctx context.Context, tenantID string, rootID string, dir walkDirection, opts types.LineageOptions, visited map[string]bool) (nodes []types.LineageNode, hasMore bool, truncated bool, err error) {
	frontier := []string{rootID}
	depth := 0
	for len(frontier) > 0 {
		edges, err := b.edges(ctx, tenantID, frontier, dir, opts.IncludeReversed)
		if err != nil {
			return nil, false, false, err
		}

		type reach struct {
			edge types.GenealogyEdge
			from string
		}
		next := make([]string, 0)
		reached := make(map[string]reach)
		for _, e := range edges {
			neighbour, from := e.ParentLPID, e.ChildLPID
			if dir == walkDown {
				neighbour, from = e.ChildLPID, e.ParentLPID
			}
			if visited[neighbour] {
				continue
			}
			if _, dup := reached[neighbour]; dup {
				continue
			}
			reached[neighbour] = reach{edge: e, from: from}
			next = append(next, neighbour)
		}
		if len(next) == 0 {
			return nodes, false, false, nil
		}
		if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
			return nodes, true, false, nil
		}
		if depth >= b.rt.depthCap {
			return nodes, true, true, nil
		}

		lps, err := b.store.GetLicensePlates(ctx, tenantID, next)
		if err != nil {
			return nil, false, false, err
		}
		depth++
		for _, lp := range lps {
			visited[lp.ID] = true
			r := reached[lp.ID]
			n := nodeFromLP(lp, int(dir)*depth)
			n.LinkedLPID = r.from
			n.OperationType = r.edge.OperationType
			n.EdgeQuantity = r.edge.Quantity
			n.WorkOrderID = r.edge.WorkOrderID
			nodes = append(nodes, n)
		}
		frontier = next
	}
	return nodes, false, false, nil
}

func (b LineageBuilder) edges(ctx context.Context, tenantID string, ids []string, dir walkDirection, includeReversed bool) ([]types.GenealogyEdge, error) {
	if dir == walkUp {
		return b.store.EdgesByChild(ctx, tenantID, ids, includeReversed)
	}
	return b.store.EdgesByParent(ctx, tenantID, ids, includeReversed)
}

func nodeFromLP(lp types.LicensePlate, level int) types.LineageNode {
	return types.LineageNode{
		LPID:        lp.ID,
		LPNumber:    lp.LPNumber,
		ProductID:   lp.ProductID,
		ProductName: lp.ProductName,
		Quantity:    lp.Quantity,
		UoM:         lp.UoM,
		BatchNumber: lp.BatchNumber,
		ExpiryDate:  lp.ExpiryDate,
		QAStatus:    lp.QAStatus,
		Status:      lp.Status,
		Consumed:    lp.Consumed,
		Level:       level,
	}
}
