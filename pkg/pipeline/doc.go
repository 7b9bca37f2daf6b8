// Package pipeline runs measurements over a catalog of sources.
//
// A pipeline is a chain of steps connected by channels. A root step feeds
// the chain, normal steps transform elements with a bounded number of
// goroutines, and a sink consumes the result. Every step reports at most one
// error on its own named channel; the pipeline stops every step on the first
// error and returns it from Run.
//
// Batch builds the chain used to measure an exposure:
//
//	sources -> measure -> write
//
// Measurement failures are not errors: they are stored as flags on each
// source record. Options implementing model.PipelineOption observe the
// steps and every measured source, which is how timings, stage graphs and
// metrics are collected.
package pipeline
