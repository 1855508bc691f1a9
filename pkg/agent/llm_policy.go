package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/boristopalov/envrunner/pkg/core"
	"github.com/boristopalov/envrunner/pkg/memory"
	"github.com/boristopalov/envrunner/pkg/providers"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultTask = "You control an agent in a simulated environment. Choose the action that maximizes long-term reward."

	actionPromptTemplate = `%s

The environment has %d discrete actions, numbered 0 to %d.
The current observation is: [%s]

%s

Very briefly think step by step about which action to take, then give your answer after the string "ANSWER" like so: ANSWER: <action number>`
)

var answerPattern = regexp.MustCompile(`ANSWER:\s*(-?\d+)`)

type ModelInfo struct {
	Id     string         // e.g. "gpt-4o-mini"
	Config map[string]any // model-specific configuration
}

// LLMPolicy asks a language model for each action
type LLMPolicy struct {
	id          string
	model       ModelInfo
	client      providers.Client
	memory      *memory.Memory
	actionCount int
	task        string
	timeout     time.Duration
	historyLen  int
	logger      zerolog.Logger
}

type PolicyParams struct {
	AgentID    string
	Model      ModelInfo
	Client     providers.Client
	Task       string
	Timeout    time.Duration
	HistoryLen int
	Logger     zerolog.Logger
}

type PolicyOption func(*PolicyParams)

func WithAgentId(id string) PolicyOption {
	return func(p *PolicyParams) {
		p.AgentID = id
	}
}

func WithModel(model ModelInfo) PolicyOption {
	return func(p *PolicyParams) {
		p.Model = model
	}
}

func WithClient(c providers.Client) PolicyOption {
	return func(p *PolicyParams) {
		p.Client = c
	}
}

// WithTask sets the instructions placed at the top of every prompt
func WithTask(task string) PolicyOption {
	return func(p *PolicyParams) {
		p.Task = task
	}
}

// WithTimeout bounds each completion request
func WithTimeout(d time.Duration) PolicyOption {
	return func(p *PolicyParams) {
		p.Timeout = d
	}
}

// WithHistory sets how many past decisions are shown in the prompt
func WithHistory(n int) PolicyOption {
	return func(p *PolicyParams) {
		p.HistoryLen = n
	}
}

func WithLogger(logger zerolog.Logger) PolicyOption {
	return func(p *PolicyParams) {
		p.Logger = logger
	}
}

func defaultPolicyParams() *PolicyParams {
	return &PolicyParams{
		AgentID: "agent-" + uuid.New().String(),
		Model: ModelInfo{
			Id:     "gpt-4o-mini",
			Config: make(map[string]any),
		},
		Task:       defaultTask,
		Timeout:    30 * time.Second,
		HistoryLen: 5,
		Logger:     zerolog.Nop(),
	}
}

// NewLLMPolicy creates a policy for an environment with the given metadata.
// A client is required.
func NewLLMPolicy(meta core.Metadata, opts ...PolicyOption) (*LLMPolicy, error) {
	params := defaultPolicyParams()
	for _, opt := range opts {
		opt(params)
	}

	if params.Client == nil {
		return nil, fmt.Errorf("llm policy %s: no client configured", params.AgentID)
	}
	if meta.ActionCount < 1 {
		return nil, fmt.Errorf("llm policy %s: environment has no actions", params.AgentID)
	}

	return &LLMPolicy{
		id:          params.AgentID,
		model:       params.Model,
		client:      params.Client,
		memory:      memory.NewMemory(max(params.HistoryLen, 1)),
		actionCount: meta.ActionCount,
		task:        params.Task,
		timeout:     params.Timeout,
		historyLen:  params.HistoryLen,
		logger:      params.Logger.With().Str("component", "llm_policy").Str("agent_id", params.AgentID).Logger(),
	}, nil
}

func (p *LLMPolicy) GetID() string {
	return p.id
}

func (p *LLMPolicy) GetModel() ModelInfo {
	return p.model
}

func (p *LLMPolicy) GetMemory() *memory.Memory {
	return p.memory
}

func (p *LLMPolicy) ChooseAction(state core.State) (core.Action, error) {
	prompt := p.prompt(state)

	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	response, err := p.client.Complete(ctx, p.model.Id, prompt)
	if err != nil {
		return 0, fmt.Errorf("failed to generate response: %w", err)
	}
	p.logger.Debug().Str("response", response).Msg("Action response")

	action, err := parseActionResponse(response, p.actionCount)
	if err != nil {
		return 0, err
	}

	p.memory.Store(fmt.Sprintf("Observation [%s] -> action %d", formatState(state), action))
	return action, nil
}

func (p *LLMPolicy) prompt(state core.State) string {
	history := "This is the first decision, so there is no history of previous decisions."
	if p.historyLen > 0 {
		if recent := p.memory.Recent(p.historyLen); len(recent) > 0 {
			history = "Your most recent decisions:\n" + strings.Join(recent, "\n")
		}
	}
	return fmt.Sprintf(actionPromptTemplate,
		p.task,
		p.actionCount,
		p.actionCount-1,
		formatState(state),
		history,
	)
}

// parseActionResponse finds the last "ANSWER: n" in a response and checks n
// is a valid action
func parseActionResponse(response string, actionCount int) (core.Action, error) {
	matches := answerPattern.FindAllStringSubmatch(response, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("could not find answer in response: %s", response)
	}

	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0, fmt.Errorf("could not parse action: %w", err)
	}
	if n < 0 || n >= actionCount {
		return 0, fmt.Errorf("action %d out of range [0, %d)", n, actionCount)
	}
	return core.Action(n), nil
}

func formatState(state core.State) string {
	parts := make([]string, len(state))
	for i, v := range state {
		parts[i] = strconv.FormatFloat(v, 'f', 4, 64)
	}
	return strings.Join(parts, ", ")
}
