package cmodel

import (
	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"

	"github.com/askiada/go-cmodel/internal/store"
)

// Stage names, as used in the stage graph, logs and record fields.
const (
	StageStart   = "start"
	StageInitial = "initial"
	StageExp     = "exp"
	StageDev     = "dev"
	StageLinear  = "linear"
	StageEnd     = "end"
)

var stageRank = map[string]int{
	StageStart:   0,
	StageInitial: 1,
	StageExp:     2,
	StageDev:     3,
	StageLinear:  4,
	StageEnd:     5,
}

// StageGraph returns the dependencies between the stages of one measurement:
// initial precedes exp and dev, and linear waits for both.
func StageGraph() (graph.Graph[string, string], store.Store[string, string], error) {
	s := store.NewMemoryStore[string, string]()
	g := graph.NewWithStore(graph.StringHash, s, graph.Directed(), graph.PreventCycles())

	for _, name := range []string{StageStart, StageInitial, StageExp, StageDev, StageLinear, StageEnd} {
		if err := g.AddVertex(name); err != nil {
			return nil, nil, errors.Wrapf(err, "unable to add stage %s", name)
		}
	}
	edges := [][2]string{
		{StageStart, StageInitial},
		{StageInitial, StageExp},
		{StageInitial, StageDev},
		{StageExp, StageLinear},
		{StageDev, StageLinear},
		{StageLinear, StageEnd},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, nil, errors.Wrapf(err, "unable to link %s to %s", e[0], e[1])
		}
	}
	return g, s, nil
}

// StageOrder returns the stages in execution order.
func StageOrder() ([]string, error) {
	g, _, err := StageGraph()
	if err != nil {
		return nil, err
	}
	order, err := graph.StableTopologicalSort(g, func(a, b string) bool {
		return stageRank[a] < stageRank[b]
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to sort stages")
	}
	return order, nil
}
