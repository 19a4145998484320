package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPagesToFetch applies when an import manifest leaves amount_pages_to_fetch unset
	DefaultPagesToFetch = 5

	// NextPageTokenKey is the namespace key the pagination token is injected under
	NextPageTokenKey = "NEXT_PAGE_TOKEN"

	// GenerateFieldName marks an initial_data_form entry whose value is generated per run
	GenerateFieldName = "generate"
)

// SyncAction selects how imported users are applied
type SyncAction string

const (
	SyncActionCreate SyncAction = "create"
	SyncActionUpdate SyncAction = "update"
)

// Manifest is the admin-authored description of one integration.
// Field names are the JSON contract shared with the manifest builder.
type Manifest struct {
	Form            []FormField          `json:"form,omitempty"`
	InitialDataForm []InitialDataField   `json:"initial_data_form,omitempty"`
	ExtraUserInfo   []ExtraUserInfoField `json:"extra_user_info,omitempty"`
	Exists          *ExistsCheck         `json:"exists,omitempty"`
	Execute         []Step               `json:"execute,omitempty"`
	Revoke          []Step               `json:"revoke,omitempty"`
	Headers         map[string]string    `json:"headers,omitempty"`
	OAuth           *OAuthSpec           `json:"oauth,omitempty"`

	// Import manifests only
	Action             SyncAction        `json:"action,omitempty"`
	DataFrom           string            `json:"data_from,omitempty"`
	DataStructure      map[string]string `json:"data_structure,omitempty"`
	NextPageFrom       string            `json:"next_page_from,omitempty"`
	NextPageTokenFrom  string            `json:"next_page_token_from,omitempty"`
	NextPage           string            `json:"next_page,omitempty"`
	AmountPagesToFetch *int              `json:"amount_pages_to_fetch,omitempty"`
}

// PagesToFetch returns the page budget for imports.
func (m *Manifest) PagesToFetch() int {
	if m.AmountPagesToFetch == nil || *m.AmountPagesToFetch < 1 {
		return DefaultPagesToFetch
	}
	return *m.AmountPagesToFetch
}

// SyncAction returns the configured sync action, create when unset.
func (m *Manifest) SyncAction() SyncAction {
	if m.Action == "" {
		return SyncActionCreate
	}
	return m.Action
}

// ListStep is the step an import manifest fetches its first page with.
func (m *Manifest) ListStep() (Step, bool) {
	if len(m.Execute) == 0 {
		return Step{}, false
	}
	return m.Execute[0], true
}

// Step is one HTTP call.
type Step struct {
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Data           any               `json:"data,omitempty"`
	CastDataToJSON bool              `json:"cast_data_to_json,omitempty"`
	StatusCode     StatusCodes       `json:"status_code,omitempty"`
	SaveAsFile     string            `json:"save_as_file,omitempty"`
	// Files maps a multipart field name to a file saved earlier in the same run
	Files      map[string]string `json:"files,omitempty"`
	StoreData  map[string]string `json:"store_data,omitempty"` // user extra field -> dotted notation into the response
	ContinueIf *ContinueIf       `json:"continue_if,omitempty"`
	Polling    *PollingSpec      `json:"polling,omitempty"`
}

// HTTPMethod returns the upper-cased method, POST when unset.
func (s Step) HTTPMethod() string {
	if s.Method == "" {
		return "POST"
	}
	return strings.ToUpper(s.Method)
}

// AllowsStatus reports whether code satisfies the step's status_code allow-list.
func (s Step) AllowsStatus(code int) bool {
	if len(s.StatusCode) == 0 {
		return true
	}
	for _, allowed := range s.StatusCode {
		if allowed == code {
			return true
		}
	}
	return false
}

// ContinueIf gates the rest of a run on a value in the step response.
type ContinueIf struct {
	ResponseNotation string `json:"response_notation"`
	Value            string `json:"value"`
}

// PollingSpec re-issues a step until its continue_if holds.
type PollingSpec struct {
	Interval float64 `json:"interval"` // seconds
	Amount   int     `json:"amount"`
}

func (p PollingSpec) IntervalDuration() time.Duration {
	return time.Duration(p.Interval * float64(time.Second))
}

// ExistsCheck is a step whose response text is searched for Expected.
type ExistsCheck struct {
	Step
	Expected string `json:"expected"`
}

type OAuthSpec struct {
	AuthenticateURL string `json:"authenticate_url"`
	AccessToken     Step   `json:"access_token"`
	Refresh         *Step  `json:"refresh,omitempty"`
}

// FormField is an input collected from an admin when work is assigned.
type FormField struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Type  string       `json:"type"` // input, choice, multiple_choice
	Items []FormChoice `json:"items,omitempty"`

	// Fetched choices
	URL         string `json:"url,omitempty"`
	Method      string `json:"method,omitempty"`
	DataFrom    string `json:"data_from,omitempty"`
	ChoiceValue string `json:"choice_value,omitempty"`
	ChoiceName  string `json:"choice_name,omitempty"`
}

type FormChoice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InitialDataField is a one-time setup value stored in the integration's extra args.
type InitialDataField struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Secret      bool   `json:"secret,omitempty"`
}

// Generated reports whether the value is produced fresh for every run.
func (f InitialDataField) Generated() bool {
	return f.Name == GenerateFieldName
}

// ExtraUserInfoField is a per-user value that must exist before executing.
type ExtraUserInfoField struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StatusCodes accepts numbers or numeric strings, e.g. [200, "201"].
type StatusCodes []int

func (s *StatusCodes) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("status_code must be a list: %w", err)
	}

	codes := make([]int, 0, len(raw))
	for _, item := range raw {
		var n int
		if err := json.Unmarshal(item, &n); err == nil {
			codes = append(codes, n)
			continue
		}
		var str string
		if err := json.Unmarshal(item, &str); err != nil {
			return fmt.Errorf("invalid status code %s", string(item))
		}
		n, err := strconv.Atoi(strings.TrimSpace(str))
		if err != nil {
			return fmt.Errorf("invalid status code %q", str)
		}
		codes = append(codes, n)
	}

	*s = codes
	return nil
}
