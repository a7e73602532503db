// Package metrics provides observability hooks for the worker runtime.
//
// Components receive a Recorder and default to NoopRecorder, so metrics can
// be switched on without touching call sites:
//
//	recorder := metrics.NewPrometheusRecorder(registry)
//	session := worker.NewSession(worker.WithRecorder(recorder))
//
// The Prometheus implementation registers its collectors on the supplied
// registry and HTTPHandler exposes them for scraping.
package metrics
