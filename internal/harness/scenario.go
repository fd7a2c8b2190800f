package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hubd/internal/events"
	"github.com/roach88/hubd/internal/message"
)

// Scenario is one replayable sequence of engine operations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Network defaults to devnet.
	Network string `yaml:"network,omitempty"`

	// Now is the clock's protocol timestamp when the run starts.
	Now uint32 `yaml:"now"`

	// Prune replaces the engine's default retention, keyed by set name.
	Prune map[string]Policy `yaml:"prune,omitempty"`

	// Setup runs before subscribers attach. Every step must merge.
	Setup []Step `yaml:"setup,omitempty"`

	Subscribers []Subscriber `yaml:"subscribers"`

	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

type Policy struct {
	MaxCount      int    `yaml:"max_count"`
	MaxAgeSeconds uint32 `yaml:"max_age_seconds"`
}

// Subscriber names an event subscription. No types means every type.
type Subscriber struct {
	Name  string   `yaml:"name"`
	Types []string `yaml:"types,omitempty"`
}

// Step is one engine operation. Which fields apply depends on Invoke.
type Step struct {
	Invoke string `yaml:"invoke"`

	Fid uint64 `yaml:"fid,omitempty"`

	// Signer signs the message: "custody" (the default) or a delegate name.
	Signer string `yaml:"signer,omitempty"`

	// Key is the delegate name a signer message grants or revokes, the
	// custody seed of a transfer, or the address seed of a verification.
	Key string `yaml:"key,omitempty"`

	Ts   uint32 `yaml:"ts,omitempty"`
	Text string `yaml:"text,omitempty"`

	// Target is the label of an earlier message (cast_remove, reactions)
	// and TargetFid the fid of an amp.
	Target    string `yaml:"target,omitempty"`
	TargetFid uint64 `yaml:"target_fid,omitempty"`

	Block    uint64 `yaml:"block,omitempty"`
	LogIndex uint32 `yaml:"log_index,omitempty"`
	Fname    string `yaml:"fname,omitempty"`

	// Seconds advances the clock (advance_clock).
	Seconds uint32 `yaml:"seconds,omitempty"`

	// Label names the message built by this step for later steps,
	// assertions and traces.
	Label string `yaml:"label,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Check is a live_count or message assertion evaluated when the step
	// runs (check).
	Check *Assertion `yaml:"check,omitempty"`
}

// ExpectClause specifies the expected result of a step: either an outcome
// or an error code.
type ExpectClause struct {
	Outcome string `yaml:"outcome,omitempty"` // "merged" | "superseded"
	Error   string `yaml:"error,omitempty"`   // "VALIDATION" | "AUTHORITY" | "STORAGE"
}

// Step names.
const (
	StepRegister           = "register"
	StepTransfer           = "transfer"
	StepFname              = "fname"
	StepSignerAdd          = "signer_add"
	StepSignerRemove       = "signer_remove"
	StepCastAdd            = "cast_add"
	StepCastRemove         = "cast_remove"
	StepReactionAdd        = "reaction_add"
	StepReactionRemove     = "reaction_remove"
	StepAmpAdd             = "amp_add"
	StepAmpRemove          = "amp_remove"
	StepUserData           = "user_data"
	StepVerificationAdd    = "verification_add"
	StepVerificationRemove = "verification_remove"
	StepPrune              = "prune"
	StepPruneJob           = "prune_job"
	StepAdvanceClock       = "advance_clock"
	StepCheck              = "check"
)

var stepNames = map[string]bool{
	StepRegister: true, StepTransfer: true, StepFname: true,
	StepSignerAdd: true, StepSignerRemove: true,
	StepCastAdd: true, StepCastRemove: true,
	StepReactionAdd: true, StepReactionRemove: true,
	StepAmpAdd: true, StepAmpRemove: true,
	StepUserData: true,
	StepVerificationAdd: true, StepVerificationRemove: true,
	StepPrune: true, StepPruneJob: true, StepAdvanceClock: true,
	StepCheck: true,
}

// Assertion validates the traces or the final store contents.
type Assertion struct {
	// Type is one of event_count, event_order, live_count, message.
	Type string `yaml:"type"`

	Subscriber string   `yaml:"subscriber,omitempty"`
	Event      string   `yaml:"event,omitempty"`
	Events     []string `yaml:"events,omitempty"`
	Count      int      `yaml:"count,omitempty"`

	Fid uint64 `yaml:"fid,omitempty"`
	Set string `yaml:"set,omitempty"`

	Label   string `yaml:"label,omitempty"`
	Present *bool  `yaml:"present,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount = "event_count"
	AssertEventOrder = "event_order"
	AssertLiveCount  = "live_count"
	AssertMessage    = "message"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
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

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var out []*Scenario
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Network != "" {
		if _, err := message.ParseNetwork(s.Network); err != nil {
			return err
		}
	}
	for name := range s.Prune {
		set, err := message.ParseSetType(name)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		if set == message.SetSigner {
			return fmt.Errorf("prune: the signer set is never pruned")
		}
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	subscribers := make(map[string]bool)
	for i, sub := range s.Subscribers {
		if sub.Name == "" {
			return fmt.Errorf("subscribers[%d]: name is required", i)
		}
		if subscribers[sub.Name] {
			return fmt.Errorf("subscribers[%d]: duplicate name %q", i, sub.Name)
		}
		subscribers[sub.Name] = true
		for _, t := range sub.Types {
			if _, err := events.ParseType(t); err != nil {
				return fmt.Errorf("subscribers[%d]: %w", i, err)
			}
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot have expect", i)
		}
		if step.Invoke == StepCheck {
			return fmt.Errorf("setup[%d]: check steps belong in flow", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, subscribers); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Invoke == "" {
		return fmt.Errorf("invoke is required")
	}
	if !stepNames[step.Invoke] {
		return fmt.Errorf("unknown step %q", step.Invoke)
	}
	if step.Invoke == StepCheck {
		if step.Check == nil {
			return fmt.Errorf("check: check is required")
		}
		if step.Check.Type != AssertLiveCount && step.Check.Type != AssertMessage {
			return fmt.Errorf("check: only live_count and message can run mid-flow")
		}
		if step.Expect != nil {
			return fmt.Errorf("check: expect is not allowed")
		}
		return validateAssertion(*step.Check, nil)
	}
	if step.Check != nil {
		return fmt.Errorf("%s: check is only allowed on check steps", step.Invoke)
	}
	switch step.Invoke {
	case StepPruneJob, StepAdvanceClock:
	default:
		if step.Fid == 0 {
			return fmt.Errorf("%s: fid is required", step.Invoke)
		}
	}
	switch step.Invoke {
	case StepSignerAdd, StepSignerRemove, StepTransfer, StepVerificationAdd, StepVerificationRemove:
		if step.Key == "" {
			return fmt.Errorf("%s: key is required", step.Invoke)
		}
	case StepCastRemove, StepReactionAdd, StepReactionRemove:
		if step.Target == "" {
			return fmt.Errorf("%s: target is required", step.Invoke)
		}
	case StepFname:
		if step.Fname == "" {
			return fmt.Errorf("fname: fname is required")
		}
	}
	if e := step.Expect; e != nil {
		if (e.Outcome == "") == (e.Error == "") {
			return fmt.Errorf("expect: exactly one of outcome or error is required")
		}
		if e.Outcome != "" && e.Outcome != "merged" && e.Outcome != "superseded" {
			return fmt.Errorf("expect: unknown outcome %q", e.Outcome)
		}
	}
	return nil
}

func validateAssertion(a Assertion, subscribers map[string]bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertEventCount, AssertEventOrder:
		if !subscribers[a.Subscriber] {
			return fmt.Errorf("unknown subscriber %q", a.Subscriber)
		}
		names := a.Events
		if a.Type == AssertEventCount {
			if a.Count < 0 {
				return fmt.Errorf("count must be non-negative")
			}
			names = []string{a.Event}
		} else if len(names) == 0 {
			return fmt.Errorf("events list is required for event_order")
		}
		for _, n := range names {
			if _, err := events.ParseType(n); err != nil {
				return err
			}
		}
	case AssertLiveCount:
		if a.Fid == 0 {
			return fmt.Errorf("fid is required for live_count")
		}
		if _, err := message.ParseSetType(a.Set); err != nil {
			return err
		}
	case AssertMessage:
		if a.Label == "" {
			return fmt.Errorf("label is required for message")
		}
		if a.Present == nil {
			return fmt.Errorf("present is required for message")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
