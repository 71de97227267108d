package llm

import "context"

type ActionType string

const (
	ActionNavigate  ActionType = "navigate"
	ActionClick     ActionType = "click"
	ActionTypeInput ActionType = "type"
	ActionScroll    ActionType = "scroll"
	ActionExtract   ActionType = "extract"
	ActionFinish    ActionType = "finish"
)

// Action is one browser operation chosen by the model. TargetID refers to an
// element index from the snapshot tree, not a DOM id.
type Action struct {
	Type     ActionType `json:"type"`
	TargetID int        `json:"target_id,omitempty"`
	Text     string     `json:"text,omitempty"`
	URL      string     `json:"url,omitempty"`
	Submit   bool       `json:"submit,omitempty"`
}

type DecisionInput struct {
	Task             string
	DOMTree          string
	CurrentURL       string
	History          string
	ScreenshotBase64 string
}

type Decision struct {
	Observation string `json:"observation"`
	Thought     string `json:"thought"`
	Action      Action `json:"action"`
}

type SummaryInput struct {
	Task       string
	ExitReason string
	FinalURL   string
	Duration   string
	Steps      []string
}

// Backend produces the next action for an agent run. Implementations must be
// safe for use by a single run at a time; the registry hands out a fresh
// backend per run.
type Backend interface {
	DecideAction(ctx context.Context, input DecisionInput) (*Decision, error)
	Summarize(ctx context.Context, input SummaryInput) (string, error)
}
