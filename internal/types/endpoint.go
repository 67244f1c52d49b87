package types

import (
	"fmt"
	"time"
)

// Endpoint describes a remote model endpoint. Endpoints are immutable for
// the duration of a run; the administrative surface creates and updates the
// backing JSON descriptors between runs.
type Endpoint struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	ConnectorType     string         `json:"connector_type"`
	URI               string         `json:"uri"`
	Token             string         `json:"token"`
	MaxCallsPerSecond int            `json:"max_calls_per_second"`
	MaxConcurrency    int            `json:"max_concurrency"`
	Model             string         `json:"model"`
	Params            map[string]any `json:"params"`
	CreatedDate       string         `json:"created_date"`
}

// Validate checks the endpoint descriptor for structural errors.
func (e *Endpoint) Validate() error {
	if err := ValidateSlug(e.ID); err != nil {
		return err
	}
	if e.ConnectorType == "" {
		return NewError(VALIDATION_FAILED, "endpoint "+e.ID+": connector_type is required")
	}
	if e.MaxCallsPerSecond <= 0 {
		return NewError(OUT_OF_RANGE,
			fmt.Sprintf("endpoint %s: max_calls_per_second must be positive, got %d", e.ID, e.MaxCallsPerSecond))
	}
	if e.MaxConcurrency <= 0 {
		return NewError(OUT_OF_RANGE,
			fmt.Sprintf("endpoint %s: max_concurrency must be positive, got %d", e.ID, e.MaxConcurrency))
	}
	return nil
}

// NewEndpoint constructs an endpoint descriptor with the creation timestamp
// set and the ID derived from the name.
func NewEndpoint(name, connectorType, uri, token string, maxCPS, maxConc int, model string, params map[string]any) *Endpoint {
	return &Endpoint{
		ID:                Slugify(name),
		Name:              name,
		ConnectorType:     connectorType,
		URI:               uri,
		Token:             token,
		MaxCallsPerSecond: maxCPS,
		MaxConcurrency:    maxConc,
		Model:             model,
		Params:            params,
		CreatedDate:       time.Now().Format(time.RFC3339),
	}
}
