package core

import (
	"sort"
)

// Relation types.
const (
	RelContains      = "contains"
	RelHasVersion    = "has-version"
	RelHasAxis       = "has-axis"
	RelBelongsTo     = "belongs-to"
	RelParentOf      = "parent-of"
	RelPositionedAt  = "positioned-at"
	RelCategorisedBy = "categorised-by"
)

// LinkSpec derives edges from the rows of one kind. The parent is the node
// named by ParentColumn; the child is the row itself unless ChildColumn is
// set, in which case the row is an association between two other nodes.
type LinkSpec struct {
	Name         string
	Relation     string
	Kind         Kind
	ParentColumn string
	ParentKind   Kind
	ChildColumn  string
	ChildKind    Kind
}

// DefaultLinks are the known parent/child relationships.
var DefaultLinks = []LinkSpec{
	{Name: "template_tables", Relation: RelContains, Kind: KindTable, ParentColumn: "template_id", ParentKind: KindTemplate},
	{Name: "table_versions", Relation: RelHasVersion, Kind: KindTableVersion, ParentColumn: "table_id", ParentKind: KindTable},
	{Name: "table_axes", Relation: RelHasAxis, Kind: KindAxis, ParentColumn: "table_id", ParentKind: KindTable},
	{Name: "axis_ordinates", Relation: RelContains, Kind: KindOrdinate, ParentColumn: "axis_id", ParentKind: KindAxis},
	{Name: "ordinate_children", Relation: RelParentOf, Kind: KindOrdinate, ParentColumn: "parent_ordinate_id", ParentKind: KindOrdinate},
	{Name: "table_cells", Relation: RelContains, Kind: KindCell, ParentColumn: "table_id", ParentKind: KindTable},
	{Name: "domain_members", Relation: RelBelongsTo, Kind: KindMember, ParentColumn: "domain_id", ParentKind: KindDomain},
	{Name: "domain_dimensions", Relation: RelBelongsTo, Kind: KindDimension, ParentColumn: "domain_id", ParentKind: KindDomain},
	{Name: "cell_ordinates", Relation: RelPositionedAt, Kind: KindCellPosition,
		ParentColumn: "cell_id", ParentKind: KindCell, ChildColumn: "ordinate_id", ChildKind: KindOrdinate},
	{Name: "ordinate_members", Relation: RelCategorisedBy, Kind: KindOrdinateCategorisation,
		ParentColumn: "ordinate_id", ParentKind: KindOrdinate, ChildColumn: "member_id", ChildKind: KindMember},
	{Name: "ordinate_dimensions", Relation: RelCategorisedBy, Kind: KindOrdinateCategorisation,
		ParentColumn: "ordinate_id", ParentKind: KindOrdinate, ChildColumn: "dimension_id", ChildKind: KindDimension},
}

type idSet map[string]struct{}

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type index map[string]idSet

func (ix index) add(from, to string) {
	set := ix[from]
	if set == nil {
		set = make(idSet)
		ix[from] = set
	}
	set[to] = struct{}{}
}

func (ix index) get(from string) []string {
	set, ok := ix[from]
	if !ok {
		return nil
	}
	return set.sorted()
}

// Edge is one typed edge of the graph.
type Edge struct {
	Relation string `json:"relation"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// Graph links the transformed rows of every kind. Nodes are keyed by kind
// and ID, so equal IDs of different kinds stay distinct nodes.
type Graph struct {
	kinds   []Kind
	nodes   map[Kind]idSet
	links   []LinkSpec
	forward map[string]index
	reverse map[string]index
	missing []MissingLink
	seen    map[string]bool

	tableFramework    map[string]string
	templateFramework map[string]string
	categories        map[string][]Category
}

// Category is one dimension/member pair of an ordinate.
type Category struct {
	Dimension string `json:"dimension"`
	Member    string `json:"member"`
}

// BuildGraph links rows using the default link specs. Kinds are visited in
// the given order so missing links are reported deterministically. The
// build never fails; broken links end up in Missing.
func BuildGraph(rows map[Kind][]*TargetRow, kinds []Kind) *Graph {
	return BuildGraphWith(rows, kinds, DefaultLinks)
}

// BuildGraphWith is BuildGraph with explicit link specs.
func BuildGraphWith(rows map[Kind][]*TargetRow, kinds []Kind, links []LinkSpec) *Graph {
	g := &Graph{
		kinds:             kinds,
		nodes:             make(map[Kind]idSet),
		links:             links,
		forward:           make(map[string]index),
		reverse:           make(map[string]index),
		seen:              make(map[string]bool),
		tableFramework:    make(map[string]string),
		templateFramework: make(map[string]string),
		categories:        make(map[string][]Category),
	}
	for _, l := range links {
		g.forward[l.Name] = make(index)
		g.reverse[l.Name] = make(index)
	}

	for _, k := range kinds {
		for _, r := range rows[k] {
			if r.Section == "" {
				continue
			}
			if g.nodes[k] == nil {
				g.nodes[k] = make(idSet)
			}
			g.nodes[k][r.ID] = struct{}{}
		}
	}

	for _, k := range kinds {
		for _, l := range links {
			if l.Kind != k {
				continue
			}
			for _, r := range rows[k] {
				g.link(l, r)
			}
		}
	}

	for _, r := range rows[KindTable] {
		if fw := r.String("framework_id"); fw != "" && fw != UnresolvedRef {
			g.tableFramework[r.ID] = fw
		}
	}
	for _, r := range rows[KindTemplate] {
		if fw := r.String("framework_id"); fw != "" && fw != UnresolvedRef {
			g.templateFramework[r.ID] = fw
		}
	}
	for _, r := range rows[KindOrdinateCategorisation] {
		ord, dim, mem := r.String("ordinate_id"), r.String("dimension_id"), r.String("member_id")
		if g.has(ord, KindOrdinate) && g.has(dim, KindDimension) && g.has(mem, KindMember) {
			g.categories[ord] = append(g.categories[ord], Category{Dimension: dim, Member: mem})
		}
	}
	return g
}

func (g *Graph) has(id string, kind Kind) bool {
	_, ok := g.nodes[kind][id]
	return ok
}

func (g *Graph) link(l LinkSpec, r *TargetRow) {
	parentVal, ok := r.Value(l.ParentColumn)
	parent, _ := parentVal.(string)
	if !ok || parent == "" {
		return
	}

	child := r.ID
	if l.ChildColumn != "" {
		child = r.String(l.ChildColumn)
		if child == "" {
			return
		}
		if !g.has(child, l.ChildKind) {
			g.recordMissing(l, r.ID, child, "unknown "+string(l.ChildKind))
			return
		}
	}
	if !g.has(parent, l.ParentKind) {
		g.recordMissing(l, child, parent, "unknown "+string(l.ParentKind))
		return
	}
	g.forward[l.Name].add(parent, child)
	g.reverse[l.Name].add(child, parent)
}

func (g *Graph) recordMissing(l LinkSpec, child, ref, reason string) {
	m := MissingLink{Relation: l.Name, Child: child, Ref: ref, Reason: reason}
	if g.seen[m.key()] {
		return
	}
	g.seen[m.key()] = true
	g.missing = append(g.missing, m)
}

// Missing returns the links whose endpoint does not exist, each once.
func (g *Graph) Missing() []MissingLink { return g.missing }

// HasNode reports whether id is a node of kind.
func (g *Graph) HasNode(kind Kind, id string) bool { return g.has(id, kind) }

// NodeKinds returns the kinds having a node with id, in processing order.
func (g *Graph) NodeKinds(id string) []Kind {
	var out []Kind
	for _, k := range g.kinds {
		if g.has(id, k) {
			out = append(out, k)
		}
	}
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	n := 0
	for _, set := range g.nodes {
		n += len(set)
	}
	return n
}

// Links returns the link specs in use.
func (g *Graph) Links() []LinkSpec { return g.links }

// Children returns the sorted children of parent under the named link.
func (g *Graph) Children(link, parent string) []string { return g.forward[link].get(parent) }

// Parents returns the sorted parents of child under the named link.
func (g *Graph) Parents(link, child string) []string { return g.reverse[link].get(child) }

// Edges returns every edge of a link, sorted by parent then child.
func (g *Graph) Edges(link string) []Edge {
	var rel string
	for _, l := range g.links {
		if l.Name == link {
			rel = l.Relation
		}
	}
	fw := g.forward[link]
	parents := make([]string, 0, len(fw))
	for p := range fw {
		parents = append(parents, p)
	}
	sort.Strings(parents)

	var out []Edge
	for _, p := range parents {
		for _, c := range fw[p].sorted() {
			out = append(out, Edge{Relation: rel, From: p, To: c})
		}
	}
	return out
}

// Adjacency is the forward and reverse index of one link.
type Adjacency struct {
	Relation string              `json:"relation"`
	Forward  map[string][]string `json:"forward"`
	Reverse  map[string][]string `json:"reverse"`
}

// Adjacency returns the named link's indices with sorted sets.
func (g *Graph) Adjacency(link string) Adjacency {
	a := Adjacency{Forward: flatten(g.forward[link]), Reverse: flatten(g.reverse[link])}
	for _, l := range g.links {
		if l.Name == link {
			a.Relation = l.Relation
		}
	}
	return a
}

func flatten(ix index) map[string][]string {
	out := make(map[string][]string, len(ix))
	for k, set := range ix {
		out[k] = set.sorted()
	}
	return out
}

// Summary holds the precomputed indices for downstream consumers.
type Summary struct {
	TablesPerFramework    map[string]int        `json:"tables_per_framework"`
	TemplatesPerFramework map[string]int        `json:"templates_per_framework"`
	MembersPerDomain      map[string]int        `json:"members_per_domain"`
	DimensionsPerDomain   map[string]int        `json:"dimensions_per_domain"`
	TemplateCells         map[string][]string   `json:"template_cells"`
	CellCombinations      map[string][]Category `json:"cell_combinations"`
}

// Summary computes counts per framework and domain, the template->cells
// closure and the cell->categorisation closure.
func (g *Graph) Summary() Summary {
	s := Summary{
		TablesPerFramework:    countValues(g.tableFramework),
		TemplatesPerFramework: countValues(g.templateFramework),
		MembersPerDomain:      countChildren(g.forward["domain_members"]),
		DimensionsPerDomain:   countChildren(g.forward["domain_dimensions"]),
		TemplateCells:         make(map[string][]string),
		CellCombinations:      make(map[string][]Category),
	}

	for tpl, tables := range g.forward["template_tables"] {
		cells := make(idSet)
		for table := range tables {
			for cell := range g.forward["table_cells"][table] {
				cells[cell] = struct{}{}
			}
		}
		if len(cells) > 0 {
			s.TemplateCells[tpl] = cells.sorted()
		}
	}

	for cell, ords := range g.forward["cell_ordinates"] {
		seen := make(map[Category]bool)
		var combo []Category
		for ord := range ords {
			for _, c := range g.categories[ord] {
				if !seen[c] {
					seen[c] = true
					combo = append(combo, c)
				}
			}
		}
		if len(combo) == 0 {
			continue
		}
		sort.Slice(combo, func(i, j int) bool {
			if combo[i].Dimension != combo[j].Dimension {
				return combo[i].Dimension < combo[j].Dimension
			}
			return combo[i].Member < combo[j].Member
		})
		s.CellCombinations[cell] = combo
	}
	return s
}

func countValues(m map[string]string) map[string]int {
	out := make(map[string]int)
	for _, v := range m {
		out[v]++
	}
	return out
}

func countChildren(ix index) map[string]int {
	out := make(map[string]int, len(ix))
	for k, set := range ix {
		out[k] = len(set)
	}
	return out
}
