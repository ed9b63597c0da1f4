package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/regsync/internal/directory/directorytest"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
)

// Scenario defines one end-to-end registration run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	Config ScenarioConfig `yaml:"config,omitempty"`

	// Directory scripts results per operation, consumed in order.
	Directory map[string][]Response `yaml:"directory,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: request_count, request_order, request_contains, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioConfig overrides the device and registration configuration.
type ScenarioConfig struct {
	DeviceType string   `yaml:"device_type,omitempty"`
	OptIn      bool     `yaml:"opt_in,omitempty"`
	Alias      string   `yaml:"alias,omitempty"`
	SetTags    bool     `yaml:"set_tags,omitempty"`
	Tags       []string `yaml:"tags,omitempty"`

	// PlatformToken enables platform registration with a static token.
	PlatformToken string `yaml:"platform_token,omitempty"`

	ClearNamedUserOnReinstall bool `yaml:"clear_named_user_on_reinstall,omitempty"`
}

// Response is one scripted directory result.
type Response struct {
	Status    int    `yaml:"status,omitempty"`
	Body      string `yaml:"body,omitempty"`
	ChannelID string `yaml:"channel_id,omitempty"`
	Location  string `yaml:"location,omitempty"`
	Transport bool   `yaml:"transport,omitempty"`
}

// result converts r for the directory fake. A channel id without a
// location gets the fake's default location.
func (r Response) result() directorytest.Result {
	loc := r.Location
	if loc == "" && r.ChannelID != "" {
		loc = fmt.Sprintf(directorytest.DefaultLocationPattern, r.ChannelID)
	}
	return directorytest.Result{
		Status:    r.Status,
		Body:      r.Body,
		ChannelID: r.ChannelID,
		Location:  loc,
		Transport: r.Transport,
	}
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	// Start stores the device settings and enqueues the app-start registration.
	Start bool `yaml:"start,omitempty"`

	// Advance moves the clock forward by a duration ("10s", "24h") and runs
	// whatever became due.
	Advance string `yaml:"advance,omitempty"`

	// NamedUser requests association with the given id.
	NamedUser string `yaml:"named_user,omitempty"`

	// ClearNamedUser requests disassociation.
	ClearNamedUser bool `yaml:"clear_named_user,omitempty"`

	Tags *TagStep `yaml:"tags,omitempty"`

	// Enqueue submits a bare task for the named action.
	Enqueue string `yaml:"enqueue,omitempty"`

	// Restart rebuilds the App over the same store.
	Restart bool `yaml:"restart,omitempty"`
}

// TagStep submits a tag group delta.
type TagStep struct {
	Facet  string          `yaml:"facet"`
	Add    model.TagGroups `yaml:"add,omitempty"`
	Remove model.TagGroups `yaml:"remove,omitempty"`
}

// Step kinds, as returned by Step.Kind.
const (
	StepStart          = "start"
	StepAdvance        = "advance"
	StepNamedUser      = "named_user"
	StepClearNamedUser = "clear_named_user"
	StepTags           = "tags"
	StepEnqueue        = "enqueue"
	StepRestart        = "restart"
)

// Kinds returns the kinds of every field set on s.
func (s Step) Kinds() []string {
	var kinds []string
	if s.Start {
		kinds = append(kinds, StepStart)
	}
	if s.Advance != "" {
		kinds = append(kinds, StepAdvance)
	}
	if s.NamedUser != "" {
		kinds = append(kinds, StepNamedUser)
	}
	if s.ClearNamedUser {
		kinds = append(kinds, StepClearNamedUser)
	}
	if s.Tags != nil {
		kinds = append(kinds, StepTags)
	}
	if s.Enqueue != "" {
		kinds = append(kinds, StepEnqueue)
	}
	if s.Restart {
		kinds = append(kinds, StepRestart)
	}
	return kinds
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "request_count": op was requested exactly Count times
	// - "request_order": Ops were first requested in this order
	// - "request_contains": some op request carries Fields (subset match)
	// - "final_state": final state matches Expect (subset match)
	Type string `yaml:"type"`

	Op string `yaml:"op,omitempty"`

	Ops []string `yaml:"ops,omitempty"`

	Count int `yaml:"count,omitempty"`

	Fields map[string]string `yaml:"fields,omitempty"`

	// Expect keys are listed in StateKeys.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertRequestCount    = "request_count"
	AssertRequestOrder    = "request_order"
	AssertRequestContains = "request_contains"
	AssertFinalState      = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for op := range s.Directory {
		if !slices.Contains(directorytest.Ops, op) {
			return fmt.Errorf("directory: unknown operation %q", op)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	kinds := s.Kinds()
	if len(kinds) != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %v", index, kinds)
	}
	switch kinds[0] {
	case StepAdvance:
		d, err := time.ParseDuration(s.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d <= 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", index)
		}
	case StepTags:
		if _, err := identity.ParseTagFacet(s.Tags.Facet); err != nil {
			return fmt.Errorf("steps[%d]: tags: %w", index, err)
		}
	case StepEnqueue:
		if _, err := model.ParseAction(s.Enqueue); err != nil {
			return fmt.Errorf("steps[%d]: enqueue: %w", index, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRequestCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for request_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for request_count", index)
		}
	case AssertRequestOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for request_order", index)
		}
	case AssertRequestContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for request_contains", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
		for k := range a.Expect {
			if !slices.Contains(StateKeys, k) {
				return fmt.Errorf("assertions[%d]: unknown final_state key %q", index, k)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
