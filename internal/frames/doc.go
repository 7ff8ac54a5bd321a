// Package frames assembles decoded scan samples into complete rotation
// frames.
//
// Responsibilities: wraparound detection between consecutive 360° sweeps,
// angle-ordered point storage and polar to Cartesian conversion.
// Key types: Accumulator (the per-stream state machine), Frame, Point and
// FrameBuilder (callback delivery around an Accumulator).
//
// An Accumulator is not safe for concurrent use. Exactly one goroutine owns
// it and feeds it samples in the order they were decoded.
package frames
