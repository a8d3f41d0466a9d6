// Package observability provides the structured logger shared by every
// component: JSON/text output over log/slog, context-correlated fields
// (request/session/plan id), and regex-based redaction of secrets before
// they reach a log sink.
package observability
