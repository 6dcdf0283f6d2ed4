// Package observability provides the OpenTelemetry metrics exported on /metrics.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod = "method"
	attrPath   = "path"
	attrStatus = "status"
	attrState  = "state"
	attrResult = "result"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func stateAttr(state string) attribute.KeyValue {
	return attribute.String(attrState, state)
}

func resultAttr(status string) attribute.KeyValue {
	return attribute.String(attrResult, status)
}

// normalizePath replaces job and artifact ids with placeholders.
func normalizePath(path string) string {
	for _, prefix := range []string{"/api/jobs/", "/api/artifacts/"} {
		if !strings.HasPrefix(path, prefix) || len(path) == len(prefix) {
			continue
		}
		rest := path[len(prefix):]
		placeholder := "{id}"
		if prefix == "/api/artifacts/" {
			placeholder = "{name}"
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return prefix + placeholder + rest[i:]
		}
		return prefix + placeholder
	}
	return path
}
