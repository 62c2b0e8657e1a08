package raster

import (
	"strconv"

	"github.com/rotisserie/eris"
)

// Graph is the wire form of an expression. Shared sub-expressions appear
// once in Nodes and are referenced by id.
type Graph struct {
	Result string          `json:"result"`
	Nodes  map[string]Node `json:"nodes"`
}

// Node is one entry of a Graph.
type Node struct {
	Op     Op       `json:"op"`
	Args   []string `json:"args,omitempty"`
	Value  float64  `json:"value,omitempty"`
	Bands  []string `json:"bands,omitempty"`
	Radius float64  `json:"radius,omitempty"`
	Region *Region  `json:"region,omitempty"`
	Source *Source  `json:"source,omitempty"`
}

// Encode flattens img into a Graph.
func Encode(img *Image) Graph {
	g := Graph{Nodes: make(map[string]Node)}
	ids := make(map[*Image]string)

	var visit func(*Image) string
	visit = func(n *Image) string {
		if id, ok := ids[n]; ok {
			return id
		}
		args := make([]string, 0, len(n.Args))
		for _, a := range n.Args {
			args = append(args, visit(a))
		}
		id := strconv.Itoa(len(ids))
		ids[n] = id
		g.Nodes[id] = Node{
			Op:     n.Op,
			Args:   args,
			Value:  n.Value,
			Bands:  n.Bands,
			Radius: n.Radius,
			Region: n.Region,
			Source: n.Source,
		}
		return id
	}
	g.Result = visit(img)
	return g
}

// Decode rebuilds the expression held by g.
func Decode(g Graph) (*Image, error) {
	built := make(map[string]*Image)
	visiting := make(map[string]bool)

	var build func(id string) (*Image, error)
	build = func(id string) (*Image, error) {
		if img, ok := built[id]; ok {
			return img, nil
		}
		n, ok := g.Nodes[id]
		if !ok {
			return nil, eris.Errorf("raster: graph references unknown node %q", id)
		}
		if visiting[id] {
			return nil, eris.Errorf("raster: graph cycle at node %q", id)
		}
		visiting[id] = true

		img := &Image{Op: n.Op, Value: n.Value, Bands: n.Bands, Radius: n.Radius, Region: n.Region, Source: n.Source}
		for _, a := range n.Args {
			arg, err := build(a)
			if err != nil {
				return nil, err
			}
			img.Args = append(img.Args, arg)
		}
		built[id] = img
		return img, nil
	}
	return build(g.Result)
}
