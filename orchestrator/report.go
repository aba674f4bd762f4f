package orchestrator

// Report is a value snapshot of one task's current state (spec C5). It
// never aliases mutable orchestrator state: Dependencies is copied and
// Result is only ever a plain value produced by a Behavior.
type Report struct {
	Index                 uint32
	Name                  string
	Dependencies          []uint32
	State                 TaskState
	Destination           Path
	Result                any
	Cause                 error
	InnerOrchestratorName string // set only for composite tasks (e.g. quorum) while Waiting
}

// StatusResponse is the vector of reports returned by Status.
type StatusResponse struct {
	Reports []Report
}

func newReport(t *Task) Report {
	deps := make([]uint32, 0, len(t.Dependencies))
	for d := range t.Dependencies {
		deps = append(deps, d)
	}
	r := Report{
		Index:        t.Index,
		Name:         t.Name,
		Dependencies: deps,
		State:        t.state,
		Destination:  t.Destination,
		Result:       t.result,
		Cause:        t.cause,
	}
	if t.state == StateWaiting && t.InnerOrchestratorNamer != nil {
		r.InnerOrchestratorName = t.InnerOrchestratorNamer()
	}
	return r
}
