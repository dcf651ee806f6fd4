package graph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/dshills/coderag/pkg/types"
)

// WriteDOT renders the graph in Graphviz DOT syntax. External references
// are drawn as dashed boxes; test references as dotted edges.
func (g *Graph) WriteDOT(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph dependencies {")
	fmt.Fprintln(bw, "  rankdir=LR;")
	fmt.Fprintln(bw, "  node [shape=box, fontsize=10];")

	for _, n := range g.nodes {
		fmt.Fprintf(bw, "  %s;\n", strconv.Quote(n))
	}

	externals := make(map[string]bool)
	for _, e := range g.edges {
		if e.External && !externals[e.Target] {
			externals[e.Target] = true
			fmt.Fprintf(bw, "  %s [style=dashed];\n", strconv.Quote(e.Target))
		}
	}

	for _, e := range g.edges {
		attrs := ""
		switch e.Kind {
		case types.EdgeTestReference:
			attrs = " [style=dotted]"
		case types.EdgeManifest:
			attrs = " [color=gray]"
		}
		fmt.Fprintf(bw, "  %s -> %s%s;\n", strconv.Quote(e.Source), strconv.Quote(e.Target), attrs)
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
