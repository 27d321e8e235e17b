package conductor

import "github.com/cammy/sanctuary/pkg/types"

const maxSelectedWorkers = 5

// WorkerTemplate is the default worker sequence for a category.
// The first entry leads; later entries are escalation in priority order.
type WorkerTemplate struct {
	Sequence []types.Worker
}

// DefaultTeam is used for high-complexity requests whose template is empty
func DefaultTeam() []types.Worker {
	return []types.Worker{
		types.WorkerLeadDeveloper,
		types.WorkerResearchSpecialist,
		types.WorkerDevOpsSpecialist,
	}
}

// DefaultWorkerTemplates returns the static worker templates per category
func DefaultWorkerTemplates() map[types.Category]WorkerTemplate {
	return map[types.Category]WorkerTemplate{
		types.CategorySimpleQuery: {
			Sequence: []types.Worker{types.WorkerResearchSpecialist, types.WorkerLeadDeveloper},
		},
		types.CategoryResearchTask: {
			Sequence: []types.Worker{types.WorkerResearchSpecialist, types.WorkerScoutCommander, types.WorkerLeadDeveloper},
		},
		types.CategoryCodeGeneration: {
			Sequence: []types.Worker{types.WorkerLeadDeveloper, types.WorkerResearchSpecialist, types.WorkerDevOpsSpecialist},
		},
		types.CategoryDeploymentTask: {
			Sequence: []types.Worker{types.WorkerDevOpsSpecialist, types.WorkerIntegrationArchitect, types.WorkerLeadDeveloper},
		},
		types.CategoryComplexProject: {
			Sequence: []types.Worker{
				types.WorkerLeadDeveloper,
				types.WorkerIntegrationArchitect,
				types.WorkerDevOpsSpecialist,
				types.WorkerResearchSpecialist,
			},
		},
		types.CategoryTroubleshooting: {
			Sequence: []types.Worker{types.WorkerDevOpsSpecialist, types.WorkerModelCoordinator, types.WorkerLeadDeveloper},
		},
		types.CategoryLearningSession: {
			Sequence: []types.Worker{types.WorkerScoutCommander, types.WorkerToolCurator, types.WorkerResearchSpecialist},
		},
	}
}

// Selector assigns workers to a decision
type Selector struct {
	templates map[types.Category]WorkerTemplate
}

// NewSelector creates a selector over the given templates; nil uses the defaults
func NewSelector(templates map[types.Category]WorkerTemplate) *Selector {
	if templates == nil {
		templates = DefaultWorkerTemplates()
	}
	return &Selector{templates: templates}
}

// Select returns the ordered primary workers and the fallback list.
// The primary list is never empty and holds only known, unique workers.
func (s *Selector) Select(category types.Category, complexity int, preferred []types.Worker) ([]types.Worker, []types.Worker) {
	sequence := dedupeKnown(s.templates[category].Sequence)

	var primary []types.Worker
	switch {
	case complexity < 3:
		primary = truncate(orDefault(sequence), 1)
	case complexity < 7:
		primary = truncate(orDefault(sequence), 2)
	default:
		primary = orDefault(sequence)
	}

	seen := make(map[types.Worker]bool, len(primary))
	for _, w := range primary {
		seen[w] = true
	}
	for _, w := range preferred {
		if len(primary) >= maxSelectedWorkers {
			break
		}
		if !types.IsKnownWorker(w) || seen[w] {
			continue
		}
		primary = append(primary, w)
		seen[w] = true
	}

	var fallbacks []types.Worker
	for _, w := range types.AllWorkers() {
		if !seen[w] {
			fallbacks = append(fallbacks, w)
		}
	}

	return primary, fallbacks
}

func orDefault(sequence []types.Worker) []types.Worker {
	if len(sequence) == 0 {
		return DefaultTeam()
	}
	return sequence
}

func truncate(workers []types.Worker, n int) []types.Worker {
	if len(workers) > n {
		workers = workers[:n]
	}
	return append([]types.Worker(nil), workers...)
}

func dedupeKnown(workers []types.Worker) []types.Worker {
	seen := make(map[types.Worker]bool, len(workers))
	out := make([]types.Worker, 0, len(workers))
	for _, w := range workers {
		if types.IsKnownWorker(w) && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
