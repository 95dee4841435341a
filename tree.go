package supervisor

import (
	"context"
	"fmt"
	"sort"
)

// ProcessTreeNode is one node in the ppid forest.
type ProcessTreeNode struct {
	Info     ProcessInfo
	Children []*ProcessTreeNode
}

// GetProcessTree builds a forest from the current process list using
// ppid links. Orphans whose parent is absent become roots. Requires
// enableProcessTree in the configuration.
func (s *Supervisor) GetProcessTree(ctx context.Context) ([]*ProcessTreeNode, error) {
	if !s.cfg.EnableProcessTree {
		return nil, fmt.Errorf("process tree endpoint is disabled")
	}
	procs, err := s.adapter.GetProcessList(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make(map[int32]*ProcessTreeNode, len(procs))
	for _, p := range procs {
		nodes[p.PID] = &ProcessTreeNode{Info: p}
	}

	var roots []*ProcessTreeNode
	for _, n := range nodes {
		parent, ok := nodes[n.Info.PPID]
		if !ok || n.Info.PPID == n.Info.PID {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}

	sortTree(roots)
	return roots, nil
}

func sortTree(nodes []*ProcessTreeNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Info.PID < nodes[j].Info.PID })
	for _, n := range nodes {
		sortTree(n.Children)
	}
}
