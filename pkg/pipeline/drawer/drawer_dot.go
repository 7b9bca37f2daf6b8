package drawer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/template"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/colors.v1" //nolint

	"github.com/askiada/go-cmodel/internal/store"
	"github.com/askiada/go-cmodel/pkg/cmodel"
	"github.com/askiada/go-cmodel/pkg/pipeline/measure"
)

// DOTDrawer writes the CModel stage graph as a DOT file.
type DOTDrawer struct {
	graph       graph.Graph[string, string]
	store       store.Store[string, string]
	dotFileName string
}

// NewDOTDrawer creates a drawer for the stage graph.
func NewDOTDrawer(dotFileName string) (*DOTDrawer, error) {
	g, s, err := cmodel.StageGraph()
	if err != nil {
		return nil, errors.Wrap(err, "unable to build stage graph")
	}

	return &DOTDrawer{
		graph:       g,
		store:       s,
		dotFileName: dotFileName,
	}, nil
}

// Draw creates a DOT file with the stage graph.
func (d *DOTDrawer) Draw() error {
	file, err := os.Create(d.dotFileName)
	if err != nil {
		return errors.Wrapf(err, "unable to create file %s", d.dotFileName)
	}
	defer file.Close()

	err = dot(d.graph, file)
	if err != nil {
		return errors.Wrapf(err, "unable to create dot file %s", d.dotFileName)
	}

	return file.Close()
}

// SetTotalTime appends the total time to the label of the stage.
func (d *DOTDrawer) SetTotalTime(stageName string, totalTime time.Duration) error {
	err := d.store.UpdateVertex(stageName, func(p *graph.VertexProperties) {
		label := "total: " + totalTime.String()
		if prev, ok := p.Attributes["xlabel"]; ok && prev != "" {
			label = prev + ", " + label
		}
		p.Attributes["xlabel"] = label
	})
	if err != nil {
		return errors.Wrapf(err, "unable to set total time of %s", stageName)
	}

	return nil
}

const maxRGB = 240

// failureColour goes from blue when nothing failed to red when everything did.
func failureColour(rate float64) (string, error) {
	rate = min(max(rate, 0), 1)
	red := maxRGB * rate
	blue := maxRGB - red

	colour, err := colors.RGB(uint8(red), 0, uint8(blue)) //nolint
	if err != nil {
		return "", errors.Wrap(err, "unable to get colour")
	}

	return colour.ToHEX().String(), nil
}

// AddMeasure adds measure to drawer. Metrics that do not match a stage are ignored.
func (d *DOTDrawer) AddMeasure(msr measure.Measure) error {
	stages, err := d.store.ListVertices()
	if err != nil {
		return errors.Wrap(err, "unable to list stages")
	}
	sort.Strings(stages)

	for _, name := range stages {
		metric := msr.GetMetric(name)
		if metric == nil {
			continue
		}
		err := d.updateStage(name, metric)
		if err != nil {
			return err
		}
	}

	return nil
}

func (d *DOTDrawer) updateStage(name string, metric measure.Metric) error {
	total, failed := metric.Outcomes()
	label := ""
	if avg := metric.AVGDuration(); avg != 0 {
		label = avg.String()
	}
	if total > 0 {
		if label != "" {
			label += ", "
		}
		label += fmt.Sprintf("%d/%d failed", failed, total)
	}
	if label != "" {
		err := d.store.UpdateVertex(name, func(p *graph.VertexProperties) {
			p.Attributes["xlabel"] = label
		})
		if err != nil {
			return errors.Wrap(err, "unable to update vertex")
		}
	}
	if total == 0 {
		return nil
	}

	rate := metric.FailureRate()
	colour, err := failureColour(rate)
	if err != nil {
		return err
	}
	parents, err := d.store.Predecessors(name)
	if err != nil {
		return errors.Wrap(err, "unable to get predecessors")
	}
	for _, parent := range parents {
		err := d.graph.UpdateEdge(parent, name,
			graph.EdgeAttribute("label", fmt.Sprintf("%.1f%%", 100*rate)),
			graph.EdgeAttribute("fontcolor", "blue"),
			graph.EdgeAttribute("color", colour),
		)
		if err != nil {
			return errors.Wrap(err, "unable to update edge")
		}
	}

	return nil
}

//nolint:lll //this is a template
const dotTemplate = `strict {{.GraphType}} {
	{{range $k, $v := .Attributes}}
		{{$k}}="{{$v}}";
	{{end}}
	{{range $s := .Statements}}
		"{{.Source}}" {{if .Target}}{{$.EdgeOperator}} "{{.Target}}" [ {{range $k, $v := .EdgeAttributes}}{{$k}}="{{$v}}", {{end}} weight={{.EdgeWeight}} ]{{else}}[ {{range $k, $v := .HTMLAttributes}}{{$k}}={{$v}}, {{end}} {{range $k, $v := .SourceAttributes}}{{$k}}="{{$v}}", {{end}} weight={{.SourceWeight}} ]{{end}};
	{{end}}
	}
	`

type description struct {
	GraphType    string
	Attributes   map[string]string
	EdgeOperator string
	Statements   []statement
}

type statement struct {
	Source           string
	Target           string
	SourceAttributes map[string]string
	HTMLAttributes   map[string]string
	EdgeAttributes   map[string]string
	SourceWeight     int
	EdgeWeight       int
}

func dot(g graph.Graph[string, string], wrt io.Writer, options ...func(*description)) error {
	desc, err := generateDOT(g, options...)
	if err != nil {
		return errors.Wrap(err, "failed to generate DOT description")
	}

	return renderDOT(wrt, desc)
}

// GraphAttribute is a functional option for the DOT description.
func GraphAttribute(key, value string) func(*description) {
	return func(d *description) {
		d.Attributes[key] = value
	}
}

// generateDOT lists vertices and edges in name order so that the output is stable.
func generateDOT(gra graph.Graph[string, string], options ...func(*description)) (description, error) {
	desc := description{
		GraphType:    "graph",
		Attributes:   make(map[string]string),
		EdgeOperator: "--",
		Statements:   make([]statement, 0),
	}

	for _, option := range options {
		option(&desc)
	}

	if gra.Traits().IsDirected {
		desc.GraphType = "digraph"
		desc.EdgeOperator = "->"
	}

	adjacencyMap, err := gra.AdjacencyMap()
	if err != nil {
		return desc, errors.Wrap(err, "unable to get adjacency map")
	}

	vertices := make([]string, 0, len(adjacencyMap))
	for vertex := range adjacencyMap {
		vertices = append(vertices, vertex)
	}
	sort.Strings(vertices)

	for _, vertex := range vertices {
		_, sourceProperties, err := gra.VertexWithProperties(vertex)
		if err != nil {
			return desc, errors.Wrap(err, "unable to get vertex properties")
		}

		htmlAttributes := make(map[string]string)
		sourceAttributes := make(map[string]string, len(sourceProperties.Attributes))
		for k, v := range sourceProperties.Attributes {
			if k == "xlabel" {
				htmlAttributes["label"] = fmt.Sprintf(`<%s <BR /> <FONT POINT-SIZE="12">%s</FONT>>`, vertex, v)
				continue
			}
			sourceAttributes[k] = v
		}

		desc.Statements = append(desc.Statements, statement{
			Source:           vertex,
			SourceWeight:     sourceProperties.Weight,
			SourceAttributes: sourceAttributes,
			HTMLAttributes:   htmlAttributes,
		})

		targets := make([]string, 0, len(adjacencyMap[vertex]))
		for target := range adjacencyMap[vertex] {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		for _, target := range targets {
			edge := adjacencyMap[vertex][target]
			desc.Statements = append(desc.Statements, statement{
				Source:         vertex,
				Target:         target,
				EdgeWeight:     edge.Properties.Weight,
				EdgeAttributes: edge.Properties.Attributes,
			})
		}
	}

	return desc, nil
}

func renderDOT(wrt io.Writer, desc description) error {
	tpl, err := template.New("dotTemplate").Parse(dotTemplate)
	if err != nil {
		return errors.Wrap(err, "failed to parse template")
	}

	err = tpl.Execute(wrt, desc)
	if err != nil {
		return errors.Wrap(err, "unable to execute template")
	}

	return nil
}

var _ Drawer = (*DOTDrawer)(nil)
