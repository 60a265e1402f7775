// Package chat holds the conversational front end: onboarding interviews,
// morning and evening check-ins, and free-form coaching replies.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/retrieval"
	"github.com/fyrsmithlabs/coachd/internal/session"
	"go.uber.org/zap"
)

// Name is the agent name used in prompts and logs.
const Name = "Chat Agent"

// Conversation stages.
const (
	StageOnboarding     = "onboarding"
	StageDailyCheckIn   = "daily_checkin"
	StageEveningCheckIn = "evening_checkin"
	StageGeneral        = "general"
)

// DefaultConfidence is reported when the model omits a confidence.
const DefaultConfidence = 0.8

const (
	historyWindow = 5
	knowledgeK    = 3
)

// ErrEmptyMessage is returned for a blank user message.
var ErrEmptyMessage = errors.New("chat: message is required")

// Request is one incoming user message.
type Request struct {
	UserID  string
	Message string
	Stage   string
	// Extracted is what the client has gathered so far in this stage.
	Extracted map[string]any
}

// Reply is the coach's answer to one message.
type Reply struct {
	Message    string         `json:"message"`
	Data       map[string]any `json:"data"`
	Actions    []string       `json:"actions"`
	Stage      string         `json:"stage"`
	Complete   bool           `json:"conversation_complete"`
	Confidence float64        `json:"confidence"`
	OutOfScope string         `json:"out_of_scope,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Service answers chat messages and keeps the conversation history.
type Service struct {
	agent     *agent.Agent
	sessions  session.Store
	knowledge retrieval.Retriever
	profiles  profile.Store
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRetriever grounds replies in the knowledge base.
func WithRetriever(r retrieval.Retriever) Option {
	return func(s *Service) { s.knowledge = r }
}

// WithProfiles adds the user's profile to the prompt when one exists.
func WithProfiles(p profile.Store) Option {
	return func(s *Service) { s.profiles = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service.
func New(gen agent.Generator, sessions session.Store, opts ...Option) *Service {
	s := &Service{
		agent: agent.New(Name, "Conversational interface for onboarding and daily check-ins",
			"conducting natural conversations that keep users on track with their health goals", gen),
		sessions:  sessions,
		knowledge: retrieval.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reply answers text in the general stage.
func (s *Service) Reply(ctx context.Context, userID, text string) (Reply, error) {
	return s.Respond(ctx, Request{UserID: userID, Message: text, Stage: StageGeneral})
}

// Respond answers req in its stage. Both turns are appended to the history
// only when generation succeeds.
func (s *Service) Respond(ctx context.Context, req Request) (Reply, error) {
	if req.UserID == "" {
		return Reply{}, session.ErrUserRequired
	}
	if strings.TrimSpace(req.Message) == "" {
		return Reply{}, ErrEmptyMessage
	}
	ctx = logging.WithUserID(ctx, req.UserID)
	log := logging.FromContext(ctx)

	history, err := s.sessions.History(ctx, req.UserID)
	if err != nil {
		return Reply{}, fmt.Errorf("load history: %w", err)
	}
	p := s.profile(ctx, req.UserID)
	stage := normalizeStage(req.Stage)

	pr := prompt{
		stage:     stage,
		goal:      p.Goal(),
		history:   history,
		message:   req.Message,
		extracted: req.Extracted,
		user:      s.agent.Context(p),
		knowledge: s.retrieve(ctx, req.Message),
	}
	topic, out := agent.IsOutOfScope(req.Message)
	if out {
		pr.outOfScope = topic
		log.Info(ctx, "out-of-scope chat topic", zap.String("topic", topic))
	}

	raw, err := s.agent.Generate(ctx, s.agent.SystemPrompt(pr.system()), pr.render(), stageOptions(stage))
	if err != nil {
		return Reply{}, fmt.Errorf("generate reply: %w", err)
	}
	reply := s.decode(ctx, raw)
	reply.Stage = stage
	reply.OutOfScope = pr.outOfScope

	if err := s.sessions.Append(ctx, req.UserID,
		session.Message{Role: session.RoleUser, Content: req.Message, Timestamp: reply.Timestamp},
		session.Message{Role: session.RoleAssistant, Content: reply.Message, Timestamp: reply.Timestamp},
	); err != nil {
		return Reply{}, fmt.Errorf("append history: %w", err)
	}
	return reply, nil
}

// History returns up to limit of the most recent messages. A limit <= 0
// returns everything retained.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]session.Message, error) {
	if userID == "" {
		return nil, session.ErrUserRequired
	}
	msgs, err := s.sessions.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Clear forgets the user's conversation.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return session.ErrUserRequired
	}
	return s.sessions.Clear(ctx, userID)
}

func (s *Service) profile(ctx context.Context, userID string) *profile.Profile {
	if s.profiles == nil {
		return nil
	}
	p, err := s.profiles.Profile(ctx, userID)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			logging.FromContext(ctx).Warn(ctx, "chat profile unavailable", zap.Error(err))
		}
		return nil
	}
	return p
}

func (s *Service) retrieve(ctx context.Context, query string) string {
	chunks, err := s.knowledge.Retrieve(ctx, query, "", knowledgeK)
	if err != nil {
		logging.FromContext(ctx).Warn(ctx, "chat retrieval failed", zap.Error(err))
		return retrieval.NoKnowledge
	}
	return retrieval.FormatContext(chunks)
}

// decode reads the model's JSON reply. Output that is not JSON is used
// verbatim as the message with zero confidence.
func (s *Service) decode(ctx context.Context, raw string) Reply {
	reply := Reply{Actions: []string{}, Timestamp: s.now().UTC()}
	parsed := agent.ParseJSON(raw)
	if agent.IsSentinel(parsed) {
		logging.FromContext(ctx).Warn(ctx, "chat reply not parseable", zap.Int("raw_len", len(raw)))
		reply.Message = strings.TrimSpace(raw)
		reply.Data = map[string]any{}
		return reply
	}
	reply.Message = agent.Str(parsed, "agent_response")
	reply.Data = agent.Map(parsed, "extracted_info")
	if reply.Data == nil {
		reply.Data = map[string]any{}
	}
	if next := agent.Str(parsed, "next_question"); next != "" {
		reply.Data["next_question"] = next
	}
	reply.Complete = agent.Bool(parsed, "conversation_complete")
	reply.Confidence = agent.Float(parsed, "confidence", DefaultConfidence)
	return reply
}

func normalizeStage(stage string) string {
	switch stage {
	case StageOnboarding, StageDailyCheckIn, StageEveningCheckIn:
		return stage
	default:
		return StageGeneral
	}
}

func stageOptions(stage string) agent.Options {
	switch stage {
	case StageOnboarding:
		return agent.Options{Temperature: 0.6, MaxTokens: 1000}
	case StageDailyCheckIn, StageEveningCheckIn:
		return agent.Options{Temperature: 0.6, MaxTokens: 800}
	default:
		return agent.Options{Temperature: 0.7, MaxTokens: 600}
	}
}
