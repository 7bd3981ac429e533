// Package conformance runs codec conformance cases against WebCodecs-style
// audio pipelines.
//
// A Driver synthesizes a scenario's segments (real signal first and last,
// silence between), submits each frame to a normal and a DTX pipeline in
// turn, waits for both flushes together and collects the outputs. Evaluate
// then checks that DTX emitted fewer than MaxRatio times the normal output:
//
//	d := conformance.NewDriver(conformance.WithLogger(log))
//	res, err := conformance.OpusDTXCase.Run(ctx, d, conformance.OpusDTXCase.Scenario)
//
// Any error reported by either pipeline aborts the run.
package conformance
