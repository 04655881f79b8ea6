package model

// allowedTransitions encodes the ingestion pipeline state machine (spec
// §4.6): pending -> converting -> parsing -> parsed -> merging -> merged ->
// chunking -> chunked -> vectorizing -> splited, with a *_failed branch off
// each in-progress state (converting, parsing, merging, chunking,
// vectorizing). The explicit restart-to-pending edge is not in this map.
var allowedTransitions = map[ProcessStatus]map[ProcessStatus]bool{
	StatusPending: {
		StatusConverting: true,
	},
	StatusConverting: {
		StatusParsing:       true,
		StatusConvertFailed: true,
	},
	StatusParsing: {
		StatusParsed:      true,
		StatusParseFailed: true,
	},
	StatusParsed: {
		StatusMerging: true,
	},
	StatusMerging: {
		StatusMerged:      true,
		StatusMergeFailed: true,
	},
	StatusMerged: {
		StatusChunking: true,
	},
	StatusChunking: {
		StatusChunked:     true,
		StatusChunkFailed: true,
	},
	StatusChunked: {
		StatusVectorizing: true,
	},
	StatusVectorizing: {
		StatusSplited:     true,
		StatusSplitFailed: true,
	},
}

// CanTransition reports whether from -> to is a legal edge of the state
// machine. Restart (-> pending) is handled separately by callers since it
// is legal from every state, not encoded per-edge here.
func CanTransition(from, to ProcessStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}
