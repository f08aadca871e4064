package capability

// Matrix is the full CanInvoke relation laid out caller by callee, in
// declaration order
type Matrix struct {
	Modules []string
	// Allowed[i][j] reports whether Modules[i] may call Modules[j]
	Allowed [][]bool
}

// Matrix evaluates CanInvoke for every ordered pair of modules
func (g *Graph) Matrix() Matrix {
	names := g.Modules()
	m := Matrix{Modules: names, Allowed: make([][]bool, len(names))}
	for i, from := range names {
		m.Allowed[i] = make([]bool, len(names))
		for j, to := range names {
			m.Allowed[i][j] = g.CanInvoke(from, to)
		}
	}
	return m
}

// Callers returns the modules allowed to call name
func (m Matrix) Callers(name string) []string {
	col := -1
	for j, n := range m.Modules {
		if n == name {
			col = j
			break
		}
	}
	if col < 0 {
		return nil
	}
	var callers []string
	for i, from := range m.Modules {
		if m.Allowed[i][col] {
			callers = append(callers, from)
		}
	}
	return callers
}
