// Package metrics exports measurement metrics.
//
// Components receive a Recorder and default to NoopRecorder, so metrics are
// optional and never need nil checks. PrometheusRecorder registers its
// collectors on a registry that the command line writes to a node exporter
// textfile at the end of a run.
package metrics
