package dispatch

// Stage is a state of the dispatch state machine.
type Stage uint8

const (
	StageIdle Stage = iota
	StageGlobalRequestInterceptors
	StageRouting
	StageLocalRequestInterceptors
	StageExecuting
	StageLocalResponseInterceptors
	StageGlobalResponseInterceptors
	StageDone
	StageRecovering
	StageFailed
)

var stageNames = [...]string{
	StageIdle:                       "idle",
	StageGlobalRequestInterceptors:  "global_request_interceptors",
	StageRouting:                    "routing",
	StageLocalRequestInterceptors:   "local_request_interceptors",
	StageExecuting:                  "executing",
	StageLocalResponseInterceptors:  "local_response_interceptors",
	StageGlobalResponseInterceptors: "global_response_interceptors",
	StageDone:                       "done",
	StageRecovering:                 "recovering",
	StageFailed:                     "failed",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}
