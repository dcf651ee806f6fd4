package graph

import "sort"

// ShortestPath returns the shortest directed path from a to b following
// dependency edges, including both endpoints. Breadth-first expansion
// visits neighbors in lexical order so ties resolve to the lexically
// smallest route. ShortestPath(a, a) is [a].
func (g *Graph) ShortestPath(a, b string) ([]string, bool) {
	if !g.known[a] || !g.known[b] {
		return nil, false
	}
	if a == b {
		return []string{a}, true
	}

	parent := map[string]string{a: ""}
	queue := []string{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Neighbors(cur, Dependencies) {
			if _, visited := parent[next]; visited {
				continue
			}
			parent[next] = cur
			if next == b {
				return buildPath(parent, a, b), true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func buildPath(parent map[string]string, a, b string) []string {
	var rev []string
	for n := b; n != a; n = parent[n] {
		rev = append(rev, n)
	}
	rev = append(rev, a)
	out := make([]string, len(rev))
	for i, n := range rev {
		out[len(rev)-1-i] = n
	}
	return out
}

// Distance returns the number of edges on the shortest directed path from a
// to b, or -1 when b is unreachable
func (g *Graph) Distance(a, b string) int {
	p, ok := g.ShortestPath(a, b)
	if !ok {
		return -1
	}
	return len(p) - 1
}

// Reachable returns every file reachable from start in direction dir within
// maxHops edges, mapped to its hop count. start itself is excluded. A
// non-positive maxHops means unbounded.
func (g *Graph) Reachable(start string, dir Direction, maxHops int) map[string]int {
	dist := map[string]int{start: 0}
	frontier := []string{start}
	for hop := 1; len(frontier) > 0 && (maxHops <= 0 || hop <= maxHops); hop++ {
		var next []string
		for _, cur := range frontier {
			for _, n := range g.Neighbors(cur, dir) {
				if _, visited := dist[n]; visited {
					continue
				}
				dist[n] = hop
				next = append(next, n)
			}
		}
		frontier = next
	}
	delete(dist, start)
	return dist
}

// WithinHops returns every file within maxHops edges of any seed, ignoring
// edge direction, mapped to its distance from the nearest seed. Seeds map
// to 0.
func (g *Graph) WithinHops(seeds []string, maxHops int) map[string]int {
	dist := make(map[string]int, len(seeds))
	var frontier []string
	for _, s := range seeds {
		if _, ok := dist[s]; ok || !g.known[s] {
			continue
		}
		dist[s] = 0
		frontier = append(frontier, s)
	}
	sort.Strings(frontier)

	for hop := 1; len(frontier) > 0 && hop <= maxHops; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, dir := range []Direction{Dependencies, Dependents} {
				for _, n := range g.Neighbors(cur, dir) {
					if _, visited := dist[n]; visited {
						continue
					}
					dist[n] = hop
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	return dist
}

// Hub is a file with many dependents
type Hub struct {
	Path   string `json:"path" yaml:"path"`
	FanIn  int    `json:"fan_in" yaml:"fan_in"`
	FanOut int    `json:"fan_out" yaml:"fan_out"`
}

// Hubs returns up to n files ordered by fan-in, then fan-out, then path.
// Files nobody imports are omitted.
func (g *Graph) Hubs(n int) []Hub {
	var hubs []Hub
	for _, p := range g.nodes {
		in := g.FanIn(p)
		if in == 0 {
			continue
		}
		hubs = append(hubs, Hub{Path: p, FanIn: in, FanOut: g.FanOut(p)})
	}
	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].FanIn != hubs[j].FanIn {
			return hubs[i].FanIn > hubs[j].FanIn
		}
		if hubs[i].FanOut != hubs[j].FanOut {
			return hubs[i].FanOut > hubs[j].FanOut
		}
		return hubs[i].Path < hubs[j].Path
	})
	if n > 0 && len(hubs) > n {
		hubs = hubs[:n]
	}
	return hubs
}

// ExternalUsage maps each external reference to the files using it
func (g *Graph) ExternalUsage() map[string][]string {
	usage := make(map[string][]string)
	for _, e := range g.edges {
		if e.External {
			usage[e.Target] = append(usage[e.Target], e.Source)
		}
	}
	for k, v := range usage {
		usage[k] = uniq(v)
	}
	return usage
}
