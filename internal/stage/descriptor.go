package stage

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ResourceClass tags a stage with the worker lane capable of running it.
type ResourceClass string

const (
	ClassCPU ResourceClass = "cpu"
	ClassGPU ResourceClass = "gpu"
)

// Descriptor describes one ordered pipeline stage. Immutable once the
// registry is built.
type Descriptor struct {
	Name          string
	Ordinal       int
	Class         ResourceClass
	MaxRetries    int
	Timeout       time.Duration
	NonIdempotent bool
	HandlerName   string
}

var labelCaser = cases.Title(language.English)

// Label returns the human-facing progress label for the stage.
func (d Descriptor) Label() string {
	return labelCaser.String(strings.ReplaceAll(d.Name, "_", " "))
}
