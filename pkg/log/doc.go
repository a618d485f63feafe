// Package log wraps zerolog with the engine's structured-logging
// conventions: a process-wide Logger configured once via Init, and
// WithComponent/WithBlock/WithSolution/WithContract helpers that attach
// the field a given subsystem cares about to every subsequent log line.
//
// Components obtain their logger once at construction time:
//
//	logger: log.WithComponent("builder")
//
// and attach request-scoped context, such as the block a tick is
// assembling, at the point the value becomes known:
//
//	log.WithBlock(candidateNumber).Info().Msg("committed block")
package log
