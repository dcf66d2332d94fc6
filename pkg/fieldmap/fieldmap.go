// Package fieldmap defines the static per-endpoint extraction configuration:
// which key the record collection lives under in a GtR response envelope,
// and which fields to pull out of each record.
package fieldmap

import (
	"fmt"
	"sort"
)

// ErrUnknownEndpoint is returned when an endpoint has no configured mapping.
// This is a configuration error: the caller must fail before any fetch,
// since a default (empty) field list would silently corrupt downstream data.
var ErrUnknownEndpoint = fmt.Errorf("fieldmap: unknown endpoint")

// Mapping describes how to extract records for one endpoint.
type Mapping struct {
	// RecordKey is the envelope key under which the record collection is
	// nested. GtR uses the singular endpoint name: funds -> "fund".
	RecordKey string

	// Fields is the ordered list of field names to extract from each
	// record. Dotted names walk into nested objects.
	Fields []string
}

// mappings is loaded once and never mutated during a run.
var mappings = map[string]Mapping{
	"funds": {
		RecordKey: "fund",
		Fields: []string{
			"end",
			"id",
			"start",
			"category",
			"rel",
			"amount",
			"currencyCode",
			"project_id",
		},
	},
	"persons": {
		RecordKey: "person",
		Fields: []string{
			"id",
			"firstName",
			"surname",
			"rel",
			"project_id",
			"otherNames",
		},
	},
	"organisations": {
		RecordKey: "organisation",
		Fields: []string{
			"id",
			"name",
			"addresses",
		},
	},
	"projects": {
		RecordKey: "project",
		Fields: []string{
			"id",
			"name",
			"addresses",
		},
	},
}

// Lookup resolves the mapping for an endpoint. Unknown endpoints return
// ErrUnknownEndpoint wrapped with the endpoint name.
func Lookup(endpoint string) (Mapping, error) {
	m, ok := mappings[endpoint]
	if !ok {
		return Mapping{}, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownEndpoint, endpoint, Endpoints())
	}
	return m, nil
}

// Endpoints returns the supported endpoint names in sorted order.
func Endpoints() []string {
	names := make([]string, 0, len(mappings))
	for name := range mappings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
