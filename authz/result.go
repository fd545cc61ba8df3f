package authz

import (
	"fmt"
)

type Code string

const (
	CodeOK                Code = "ok"
	CodeModuleNotFound    Code = "module_not_found"
	CodeCommandNotFound   Code = "command_not_found"
	CodeSudoNotGranted    Code = "sudo_not_granted"
	CodeCommandDisabled   Code = "command_disabled"
	CodeModuleDisabled    Code = "module_disabled"
	CodeMissingCapability Code = "missing_capability"
	CodeMemberNotFound    Code = "member_not_found"
	CodeInternal          Code = "internal_error"
)

// Result of a command check. Anything but CodeOK is a denial.
type Result struct {
	Code Code
	// optional detail; for approvals, why the check was short-circuited ("owner")
	Message string
	Module  string
	Command string
	// the unmet capability, for CodeMissingCapability
	Capability string
}

func (r Result) IsOK() bool {
	return r.Code == CodeOK
}

// Reason is the user-visible explanation of a denial.
func (r Result) Reason() string {
	switch r.Code {
	case CodeOK:
		return "ok"
	case CodeModuleNotFound:
		return fmt.Sprintf("No module provides the command `%s`", r.Command)
	case CodeCommandNotFound:
		return fmt.Sprintf("Unknown command `%s`", r.Command)
	case CodeSudoNotGranted:
		return "This command is restricted to bot administrators"
	case CodeCommandDisabled:
		return fmt.Sprintf("The command `%s` is disabled on this server", r.Command)
	case CodeModuleDisabled:
		return fmt.Sprintf("The module `%s` is disabled on this server", r.Module)
	case CodeMissingCapability:
		return fmt.Sprintf("You need the `%s` permission to run `%s`", r.Capability, r.Command)
	case CodeMemberNotFound:
		return "Could not find you in this server"
	default:
		return "Internal error while checking permissions"
	}
}

// Err returns nil for approvals and a *DeniedError otherwise.
func (r Result) Err() error {
	if r.IsOK() {
		return nil
	}
	return &DeniedError{Result: r}
}

// DeniedError is an authorization denial surfaced to the caller verbatim.
type DeniedError struct {
	Result Result
}

func (e *DeniedError) Error() string {
	return e.Result.Reason()
}
