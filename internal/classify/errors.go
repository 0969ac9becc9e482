package classify

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotTrained indicates Predict or PredictProba was called before Train or
// a successful load.
var ErrNotTrained = errors.New("classifier not trained")

// ConfigurationError indicates a malformed composition request: unknown
// strategy or model, missing sub-model references, or a weight count that
// does not match the sub-model count.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// CompatibilityError indicates sub-models that cannot be combined: label
// vocabularies that differ as sets, or a strategy requiring probability
// support that a sub-model lacks.
type CompatibilityError struct {
	Reference string
	Reason    string
	Missing   []string
	Extra     []string
}

func (e *CompatibilityError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sub-model %s incompatible", e.Reference)
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing labels %v", e.Missing)
	}
	if len(e.Extra) > 0 {
		if len(e.Missing) > 0 {
			fmt.Fprintf(&b, ", extra labels %v", e.Extra)
		} else {
			fmt.Fprintf(&b, ": extra labels %v", e.Extra)
		}
	}
	return b.String()
}

// ArtifactFormatError indicates a persisted artifact whose storage shape
// cannot be classified by any known loader.
type ArtifactFormatError struct {
	Path   string
	Reason string
}

func (e *ArtifactFormatError) Error() string {
	return fmt.Sprintf("cannot load artifact %s: %s", e.Path, e.Reason)
}
