package perms

import (
	"encoding/json"
	"fmt"
)

type RequirementKind string

const (
	// no check at all
	KindNone RequirementKind = "none"
	// the stored capability is required; native administrators get no bypass
	KindCapability RequirementKind = "capability"
	// native administrators pass, everyone else needs the capability
	KindCapabilityOrAdmin RequirementKind = "capability_or_admin"
)

// Requirement is what a command (or a guild override of it) demands of the invoking member.
type Requirement struct {
	Kind       RequirementKind `json:"kind"`
	Capability string          `json:"capability,omitempty"`
}

func NoCheck() Requirement {
	return Requirement{Kind: KindNone}
}

func Capability(token string) Requirement {
	return Requirement{Kind: KindCapability, Capability: token}
}

func CapabilityOrAdmin(token string) Requirement {
	return Requirement{Kind: KindCapabilityOrAdmin, Capability: token}
}

func (r Requirement) AdminBypass() bool {
	return r.Kind == KindCapabilityOrAdmin
}

func (r Requirement) Validate() error {
	switch r.Kind {
	case KindNone:
		if r.Capability != "" {
			return fmt.Errorf("no-check requirement carries capability %q", r.Capability)
		}
		return nil
	case KindCapability, KindCapabilityOrAdmin:
		_, err := ParseCapability(r.Capability)
		return err
	default:
		return fmt.Errorf("unknown requirement kind %q", r.Kind)
	}
}

func (r Requirement) String() string {
	switch r.Kind {
	case KindNone:
		return "(none)"
	case KindCapabilityOrAdmin:
		return r.Capability + " (or administrator)"
	default:
		return r.Capability
	}
}

// Satisfied evaluates the requirement against a member's effective set and native admin flag.
func (r Requirement) Satisfied(set []string, admin bool) bool {
	switch r.Kind {
	case KindNone:
		return true
	case KindCapabilityOrAdmin:
		if admin {
			return true
		}
	}
	return Has(set, r.Capability)
}

// ParseRequirement decodes a stored requirement override.
func ParseRequirement(raw []byte) (Requirement, error) {
	var r Requirement
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, err
	}
	return r, r.Validate()
}
