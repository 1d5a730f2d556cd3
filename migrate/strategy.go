package migrate

// Plan selects which pending migrations a run applies, always in identifier
// order.
type Plan struct {
	kind   planKind
	target string
	steps  int
}

type planKind int

const (
	planAll planKind = iota
	planUpTo
	planSteps
	planDryRun
)

// RunAll applies every pending migration.
func RunAll() Plan {
	return Plan{kind: planAll}
}

// RunTo applies pending migrations up to and including the given identifier.
func RunTo(id string) Plan {
	return Plan{kind: planUpTo, target: id}
}

// RunSteps applies at most n pending migrations.
func RunSteps(n int) Plan {
	return Plan{kind: planSteps, steps: n}
}

// DryRun plans every pending migration without executing or recording
// anything.
func DryRun() Plan {
	return Plan{kind: planDryRun}
}

// IsDryRun reports whether the plan mutates nothing.
func (p Plan) IsDryRun() bool {
	return p.kind == planDryRun
}

// cut returns the subset of pending migrations the plan selects. The input
// must already be sorted by identifier.
func (p Plan) cut(pending []Migration) []Migration {
	switch p.kind {
	case planUpTo:
		for i, m := range pending {
			if m.ID() > p.target {
				return pending[:i]
			}
		}
		return pending
	case planSteps:
		if p.steps < len(pending) {
			return pending[:p.steps]
		}
		return pending
	default:
		return pending
	}
}

// Selection selects which applied migrations a rollback reverses, always in
// reverse-chronological order.
type Selection struct {
	kind   selectionKind
	target string
	steps  int
}

type selectionKind int

const (
	selectLast selectionKind = iota
	selectDownTo
	selectSteps
	selectAll
)

// RevertLast reverses only the most recently applied migration.
func RevertLast() Selection {
	return Selection{kind: selectLast}
}

// RevertTo reverses applied migrations newer than the given identifier,
// leaving it as the latest applied one.
func RevertTo(id string) Selection {
	return Selection{kind: selectDownTo, target: id}
}

// RevertSteps reverses at most n applied migrations.
func RevertSteps(n int) Selection {
	return Selection{kind: selectSteps, steps: n}
}

// RevertAll reverses every applied migration.
func RevertAll() Selection {
	return Selection{kind: selectAll}
}

// cut returns the subset of applied records the selection reverses. The input
// must already be in reverse-chronological order.
func (s Selection) cut(applied []*Record) ([]*Record, error) {
	switch s.kind {
	case selectLast:
		if len(applied) > 0 {
			return applied[:1], nil
		}
		return nil, nil
	case selectDownTo:
		for i, rec := range applied {
			if rec.ID == s.target {
				return applied[:i], nil
			}
		}
		return nil, NotFoundError{ID: s.target}
	case selectSteps:
		if s.steps < len(applied) {
			return applied[:s.steps], nil
		}
		return applied, nil
	default:
		return applied, nil
	}
}
