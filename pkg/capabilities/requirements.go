package capabilities

import (
	"strings"

	"github.com/ajitpratap0/federate/pkg/errors"
)

// Requirements lists what a pushed-down command needs from its source.
type Requirements struct {
	Capabilities []Capability
	Functions    []string
	// InCriteriaSizes holds the size of every IN value list in the command
	InCriteriaSizes []int
	// FromGroups is the number of groups in the widest from clause
	FromGroups int
}

// Requirer is implemented by commands that know their pushdown requirements.
type Requirer interface {
	Requirements() Requirements
}

// Check verifies that caps satisfies req. The returned error is of type
// capability and lists every unmet requirement.
func Check(caps *SourceCapabilities, req Requirements) error {
	var missing []string

	for _, c := range req.Capabilities {
		if !caps.Supports(c) {
			missing = append(missing, c.String())
		}
	}
	for _, fn := range req.Functions {
		if !caps.SupportsFunction(fn) {
			missing = append(missing, "function "+strings.ToLower(fn))
		}
	}
	if limit := caps.MaxInCriteriaSize(); limit > 0 {
		for _, n := range req.InCriteriaSizes {
			if n > limit {
				missing = append(missing, "IN list larger than MaxInCriteriaSize")
				break
			}
		}
	}
	if limit := caps.MaxFromGroups(); limit > 0 && req.FromGroups > limit {
		missing = append(missing, "from groups beyond MaxFromGroups")
	}

	if len(missing) == 0 {
		return nil
	}
	return errors.New(errors.ErrorTypeCapability, "source cannot evaluate pushed-down command").
		WithDetail("connector_id", caps.ConnectorID()).
		WithDetail("unsupported", missing)
}
