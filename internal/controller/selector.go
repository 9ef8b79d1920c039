package controller

import "sort"

// SelectControllers finds a minimal-size combination of candidate controllers
// whose actuated joints cover the required set, with every required joint
// actuated by exactly one selected controller. Preference order among
// combinations of the same size: exact covers (no extraneous joints) first,
// then the combination with the most already-active controllers, then lexical
// order of controller names. The search is iterative deepening over the
// combination size; combinatorial in the worst case, but the candidate pool
// is the handful of controllers wired to one robot, so this is an accepted
// cost rather than an optimization target.
func SelectControllers(joints []string, candidates []Info) ([]string, error) {
	if len(joints) == 0 || len(candidates) == 0 {
		return nil, ErrNoCoveringCombination
	}

	required := make(map[string]struct{}, len(joints))
	for _, j := range joints {
		required[j] = struct{}{}
	}

	cands := make([]Info, len(candidates))
	copy(cands, candidates)
	sort.Slice(cands, func(i, j int) bool { return cands[i].Name < cands[j].Name })

	sel := &selection{required: required, cands: cands}
	for k := 1; k <= len(cands); k++ {
		sel.bestExact, sel.bestLoose = nil, nil
		sel.bestExactActive, sel.bestLooseActive = -1, -1
		sel.search(0, k, nil)
		if sel.bestExact != nil {
			return sel.bestExact, nil
		}
		if sel.bestLoose != nil {
			return sel.bestLoose, nil
		}
	}
	return nil, ErrNoCoveringCombination
}

type selection struct {
	required map[string]struct{}
	cands    []Info

	// Combinations in which some required joint was actuated by more than
	// one member. Any superset is ambiguous too, so these prune the search.
	failed [][]int

	bestExact       []string
	bestExactActive int
	bestLoose       []string
	bestLooseActive int
}

// search enumerates k-size index combinations in lexical order, starting from
// index `from`, with `chosen` already picked.
func (s *selection) search(from, k int, chosen []int) {
	if k == 0 {
		s.evaluate(chosen)
		return
	}
	for i := from; i <= len(s.cands)-k; i++ {
		s.search(i+1, k-1, append(chosen, i))
	}
}

func (s *selection) evaluate(combo []int) {
	if s.supersetOfFailed(combo) {
		return
	}

	coverage := make(map[string]int, len(s.required))
	extraneous := false
	active := 0
	for _, idx := range combo {
		ci := s.cands[idx]
		if ci.State == StateActive {
			active++
		}
		for j := range ci.Joints {
			if _, ok := s.required[j]; ok {
				coverage[j]++
			} else {
				extraneous = true
			}
		}
	}

	for _, n := range coverage {
		if n > 1 {
			s.failed = append(s.failed, append([]int(nil), combo...))
			return
		}
	}
	if len(coverage) != len(s.required) {
		return // some joint uncovered; a larger combination may still cover it
	}

	names := make([]string, len(combo))
	for i, idx := range combo {
		names[i] = s.cands[idx].Name
	}

	// Enumeration order is lexical, so a strict comparison keeps the
	// lexically-first combination among equally-active ones.
	if !extraneous {
		if active > s.bestExactActive {
			s.bestExact, s.bestExactActive = names, active
		}
	} else {
		if active > s.bestLooseActive {
			s.bestLoose, s.bestLooseActive = names, active
		}
	}
}

func (s *selection) supersetOfFailed(combo []int) bool {
	for _, f := range s.failed {
		if containsAll(combo, f) {
			return true
		}
	}
	return false
}

// containsAll reports whether sorted slice a contains every element of sorted
// slice b. Combinations are generated in increasing index order.
func containsAll(a, b []int) bool {
	i := 0
	for _, x := range b {
		for i < len(a) && a[i] < x {
			i++
		}
		if i >= len(a) || a[i] != x {
			return false
		}
		i++
	}
	return true
}
