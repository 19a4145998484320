package models

import (
	"errors"
	"fmt"
	"regexp"
)

var fieldIDPattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

// ValidationError collects every problem found in a manifest.
type ValidationError struct {
	Problems []string `json:"problems"`
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid manifest: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid manifest: %d problems, first: %s", len(e.Problems), e.Problems[0])
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks the manifest's structure. It returns a *ValidationError or nil.
func (m *Manifest) Validate() error {
	verr := &ValidationError{}

	for _, field := range m.InitialDataForm {
		validateFieldID(verr, field.ID)
	}
	for _, field := range m.ExtraUserInfo {
		validateFieldID(verr, field.ID)
	}

	for i, step := range m.Execute {
		validateStep(verr, fmt.Sprintf("execute[%d]", i), step)
	}
	for i, step := range m.Revoke {
		validateStep(verr, fmt.Sprintf("revoke[%d]", i), step)
	}
	if m.Exists != nil {
		validateStep(verr, "exists", m.Exists.Step)
		if m.Exists.Expected == "" {
			verr.add("exists: expected is required")
		}
	}
	if m.OAuth != nil {
		validateStep(verr, "oauth.access_token", m.OAuth.AccessToken)
		if m.OAuth.Refresh != nil {
			validateStep(verr, "oauth.refresh", *m.OAuth.Refresh)
		}
	}

	if m.Action != "" && m.Action != SyncActionCreate && m.Action != SyncActionUpdate {
		verr.add("action must be %q or %q", SyncActionCreate, SyncActionUpdate)
	}
	if m.DataStructure != nil && len(m.Execute) == 0 {
		verr.add("data_structure requires an execute step to list users")
	}

	if len(verr.Problems) == 0 {
		return nil
	}
	return verr
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

func validateFieldID(verr *ValidationError, id string) {
	if !fieldIDPattern.MatchString(id) {
		verr.add("%s should only contain capitals, numbers and/or underscores", id)
	}
}

func validateStep(verr *ValidationError, path string, step Step) {
	if step.URL == "" {
		verr.add("%s: url is required", path)
	}

	for _, code := range step.StatusCode {
		if code < 100 || code > 599 {
			verr.add("%s: Not all values are within the range of 100 and 599", path)
			break
		}
	}

	if step.ContinueIf != nil {
		if step.ContinueIf.ResponseNotation == "" {
			verr.add("%s: continue_if requires response_notation", path)
		}
		if step.ContinueIf.Value == "" {
			verr.add("%s: continue_if requires value", path)
		}
	}

	if step.Polling != nil {
		if step.Polling.Amount < 1 {
			verr.add("%s: polling amount must be at least 1", path)
		}
		if step.Polling.Interval < 0 {
			verr.add("%s: polling interval cannot be negative", path)
		}
		if step.ContinueIf == nil {
			verr.add("%s: polling requires continue_if", path)
		}
	}
}
