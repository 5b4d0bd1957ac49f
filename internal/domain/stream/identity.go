package stream

import "strconv"

// Agent names emitted by the agent service.
const (
	AgentGenerator    = "generator"
	AgentCritic       = "critic"
	AgentRefiner      = "refiner"
	AgentOrchestrator = "orchestrator"
	AgentWorker       = "worker"
	AgentSynthesizer  = "synthesizer"
	AgentSystem       = "system"
)

// EntityID identifies the buffer a piece of streamed text belongs to.
type EntityID string

// Resolve derives the entity key:
//
//	worker with an id     -> worker-<id>
//	iteration present     -> <agent>-<iteration>
//	otherwise             -> <agent>
func Resolve(agent string, workerID, iteration *int) EntityID {
	if agent == AgentWorker && workerID != nil {
		return EntityID(AgentWorker + "-" + strconv.Itoa(*workerID))
	}
	if iteration != nil {
		return EntityID(agent + "-" + strconv.Itoa(*iteration))
	}
	return EntityID(agent)
}

// FinalizationKey returns the buffer a step closes. ok is false for steps
// that do not close anything (worker_start and unknown types).
func FinalizationKey(s Step) (key EntityID, ok bool) {
	switch s.Type {
	case StepDraft:
		return Resolve(AgentGenerator, nil, s.Iteration), true
	case StepCritique:
		return Resolve(AgentCritic, nil, s.Iteration), true
	case StepRefinement:
		return Resolve(AgentRefiner, nil, s.Iteration), true
	case StepWorkerComplete:
		return Resolve(AgentWorker, s.WorkerID, s.Iteration), true
	case StepFinal:
		if s.Agent == AgentSynthesizer {
			return EntityID(AgentSynthesizer), true
		}
		return Resolve(AgentSystem, nil, s.Iteration), true
	case StepPlanning:
		return EntityID(AgentOrchestrator), true
	case StepSynthesizing:
		return EntityID(AgentSynthesizer), true
	default:
		return "", false
	}
}

// OpenKey returns the buffer a worker_start step opens.
func OpenKey(s Step) (key EntityID, ok bool) {
	if s.Type != StepWorkerStart || s.WorkerID == nil {
		return "", false
	}
	return Resolve(AgentWorker, s.WorkerID, nil), true
}
