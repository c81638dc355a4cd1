// Package instrumentation provides OpenTelemetry metrics and tracing for the
// grant engine. All instruments are created against pluggable providers; when
// instrumentation is not wired, no-op providers keep the overhead at zero.
package instrumentation
