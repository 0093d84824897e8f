// ABOUTME: Configuration flow state machine: steps, intent detection, Advance
// ABOUTME: Provider capabilities decide which steps a run passes through

package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/havenjournal/haven-gateway/internal/modelrouter"
)

// Step identifies the question the flow is currently waiting on.
type Step string

// Flow steps
const (
	StepAwaitProvider   Step = "await_provider"
	StepAwaitAccountID  Step = "await_account_id"
	StepAwaitUseDefault Step = "await_use_default"
	StepAwaitModelID    Step = "await_model_id"
	StepAwaitAPIKey     Step = "await_api_key"
	StepDone            Step = "done"
)

// State is the flow cursor persisted on the thread while a run is active.
type State struct {
	Step          Step   `json:"step"`
	Provider      string `json:"provider,omitempty"`
	AccountID     string `json:"accountId,omitempty"`
	ModelID       string `json:"modelId,omitempty"`
	UseProjectKey bool   `json:"useProjectKey,omitempty"`
}

// Completion carries the finished, not-yet-validated configuration.
// APIKey is the raw key and must never be persisted as-is.
type Completion struct {
	Provider      string
	ModelID       string
	AccountID     string
	UseProjectKey bool
	APIKey        string
}

// Outcome is the result of advancing the flow by one message.
type Outcome struct {
	State      State
	Reply      string
	Completion *Completion // non-nil when the run reached its terminal step
	Canceled   bool
}

// intentPhrases trigger a new flow on an otherwise normal chat message.
var intentPhrases = []string{
	"change my model",
	"switch my model",
	"change model",
	"switch model",
	"change my provider",
	"switch provider",
	"configure model",
	"set up my model",
	"use a different model",
}

// cancelWords end a run at any step.
var cancelWords = []string{"cancel", "stop", "never mind", "nevermind", "quit"}

// Detect reports whether a free-text message asks to start the
// configuration flow.
func Detect(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range intentPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Start returns the initial state and the opening prompt.
func Start(catalog modelrouter.Catalog) Outcome {
	return Outcome{
		State: State{Step: StepAwaitProvider},
		Reply: "Which provider would you like to use? Available: " +
			strings.Join(catalog.Names(), ", ") + ". (You can say \"cancel\" at any point.)",
	}
}

// Advance applies one user message to the flow. Pure: no I/O, no clock.
func Advance(state State, input string, catalog modelrouter.Catalog) Outcome {
	trimmed := strings.TrimSpace(input)

	if isCancel(trimmed) {
		return Outcome{
			Canceled: true,
			Reply:    "Okay, leaving your model settings unchanged.",
		}
	}

	switch state.Step {
	case StepAwaitProvider:
		return advanceProvider(state, trimmed, catalog)
	case StepAwaitAccountID:
		return advanceAccountID(state, trimmed, catalog)
	case StepAwaitUseDefault:
		return advanceUseDefault(state, trimmed, catalog)
	case StepAwaitModelID:
		return advanceModelID(state, trimmed, catalog)
	case StepAwaitAPIKey:
		return advanceAPIKey(state, trimmed)
	default:
		// An unknown or terminal step means the cursor is corrupt; treat
		// it as cancellation so the thread returns to ordinary routing.
		return Outcome{
			Canceled: true,
			Reply:    "Something went wrong with the configuration. Say \"change my model\" to start over.",
		}
	}
}

func advanceProvider(state State, input string, catalog modelrouter.Catalog) Outcome {
	name := strings.ToLower(input)
	capability, ok := catalog.Lookup(modelrouter.Provider(name))
	if !ok {
		return Outcome{
			State: state,
			Reply: "I don't recognize that provider. Available: " +
				strings.Join(catalog.Names(), ", ") + ".",
		}
	}

	state.Provider = name

	switch {
	case capability.RequiresAccountID:
		state.Step = StepAwaitAccountID
		return Outcome{
			State: state,
			Reply: fmt.Sprintf("%s needs an account id. What's yours?", capability.DisplayName),
		}
	case capability.SupportsProjectKey:
		state.Step = StepAwaitUseDefault
		return Outcome{
			State: state,
			Reply: fmt.Sprintf("Would you like to use the shared %s credential, or your own API key? (say \"default\" or \"own\")",
				capability.DisplayName),
		}
	default:
		state.Step = StepAwaitModelID
		return Outcome{
			State: state,
			Reply: modelPrompt(capability),
		}
	}
}

func advanceAccountID(state State, input string, catalog modelrouter.Catalog) Outcome {
	if input == "" {
		return Outcome{
			State: state,
			Reply: "I still need your account id to continue.",
		}
	}

	state.AccountID = input
	state.Step = StepAwaitModelID
	capability, _ := catalog.Lookup(modelrouter.Provider(state.Provider))
	return Outcome{
		State: state,
		Reply: modelPrompt(capability),
	}
}

func advanceUseDefault(state State, input string, catalog modelrouter.Catalog) Outcome {
	capability, _ := catalog.Lookup(modelrouter.Provider(state.Provider))

	switch strings.ToLower(input) {
	case "default", "shared", "project":
		state.UseProjectKey = true
	case "own", "my own", "key", "mine":
		state.UseProjectKey = false
	default:
		return Outcome{
			State: state,
			Reply: "Please answer \"default\" to use the shared credential, or \"own\" to use your own API key.",
		}
	}

	state.Step = StepAwaitModelID
	return Outcome{
		State: state,
		Reply: modelPrompt(capability),
	}
}

func advanceModelID(state State, input string, catalog modelrouter.Catalog) Outcome {
	capability, _ := catalog.Lookup(modelrouter.Provider(state.Provider))

	modelID := input
	if modelID == "" || strings.EqualFold(modelID, "default") {
		modelID = capability.DefaultModelID
	}
	if !validModelID(modelID) {
		return Outcome{
			State: state,
			Reply: "That doesn't look like a valid model id. Try again, or say \"default\".",
		}
	}

	state.ModelID = modelID

	if state.UseProjectKey {
		state.Step = StepDone
		return Outcome{
			State:      state,
			Completion: completionFrom(state, ""),
			Reply:      "Checking that configuration...",
		}
	}

	state.Step = StepAwaitAPIKey
	return Outcome{
		State: state,
		Reply: "Almost done. Paste your API key (it will be stored encrypted).",
	}
}

func advanceAPIKey(state State, input string) Outcome {
	if input == "" || strings.ContainsAny(input, " \t") {
		return Outcome{
			State: state,
			Reply: "That doesn't look like an API key. Paste the key by itself, with no spaces.",
		}
	}

	state.Step = StepDone
	return Outcome{
		State:      state,
		Completion: completionFrom(state, input),
		Reply:      "Checking that key...",
	}
}

func completionFrom(state State, apiKey string) *Completion {
	return &Completion{
		Provider:      state.Provider,
		ModelID:       state.ModelID,
		AccountID:     state.AccountID,
		UseProjectKey: state.UseProjectKey,
		APIKey:        apiKey,
	}
}

func modelPrompt(capability modelrouter.Capability) string {
	return fmt.Sprintf("Which model id would you like? Say \"default\" for %s.", capability.DefaultModelID)
}

func isCancel(input string) bool {
	lower := strings.ToLower(input)
	for _, w := range cancelWords {
		if lower == w {
			return true
		}
	}
	return false
}

// validModelID accepts non-empty ids without whitespace up to a sane length.
func validModelID(id string) bool {
	if id == "" || len(id) > 120 {
		return false
	}
	return !strings.ContainsAny(id, " \t\n")
}

// Marshal serializes a state for the thread's flow cursor.
func Marshal(state State) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshaling flow state: %w", err)
	}
	return string(data), nil
}

// Unmarshal parses a flow cursor back into a state.
func Unmarshal(raw string) (State, error) {
	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return State{}, fmt.Errorf("unmarshaling flow state: %w", err)
	}
	return state, nil
}
