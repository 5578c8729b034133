package reply

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/observability"
	"gopkg.in/yaml.v3"
)

const (
	DefaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 480
	// maxHistory is the number of thread messages sent as conversation turns.
	maxHistory = 8
)

// DefaultPersona is used when no persona file is configured. {name} is
// replaced with the answering account's display name.
const DefaultPersona = `You are writing emails as {name}, an 83 year old man who wants to diversify his savings with crypto investments. You are very curious about the correspondent's investment platform and want to know how every part of it works. Your emails are funny and written in the first person. Pretend not to understand how crypto works. Never use foul language; keep everything appropriate for all ages. If you are asked to register, make up excuses. If you are asked about a wallet, act clueless and mention buying coins at the ATM down the road. Reply with the body of the email only.`

// TopicHints nudge each answer in a different direction. One is appended to
// the persona per call.
var TopicHints = []string{
	"Ask how long the platform has been in business, how safe it is, and whether any celebrities use it.",
	"Tell a story about a time you learned something interesting about investing.",
	"Find out whether you will have a personal advisor you can talk to about growing your wealth.",
	"Discuss adding more money to the platform over time.",
	"Ask personal questions about the owner or manager of the platform.",
	"Talk about your personal life.",
	"Talk about what you will do if you make a lot of money.",
	"Ask awkward questions loosely related to money.",
	"Talk about your grandchildren.",
	"Tell a story about your pet.",
}

// MessagesClient is the part of the Anthropic client used here.
type MessagesClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// ProfileStore returns notes about a correspondent, or nil when there are none.
type ProfileStore interface {
	Profile(ctx context.Context, address string) (*models.Profile, error)
}

// NameLookup resolves the display name of a local account.
type NameLookup interface {
	DisplayName(ctx context.Context, localPart string) (string, error)
}

// LanguageModelStrategy answers with text written by a language model.
type LanguageModelStrategy struct {
	client    MessagesClient
	model     string
	maxTokens int64
	persona   string
	profiles  ProfileStore
	names     NameLookup
	pick      func(n int) int
}

type LanguageModelOption func(*LanguageModelStrategy)

func WithPersona(persona string) LanguageModelOption {
	return func(s *LanguageModelStrategy) {
		if strings.TrimSpace(persona) != "" {
			s.persona = persona
		}
	}
}

func WithProfiles(p ProfileStore) LanguageModelOption {
	return func(s *LanguageModelStrategy) { s.profiles = p }
}

func WithNames(n NameLookup) LanguageModelOption {
	return func(s *LanguageModelStrategy) { s.names = n }
}

// WithTopicPicker replaces the random topic choice.
func WithTopicPicker(pick func(n int) int) LanguageModelOption {
	return func(s *LanguageModelStrategy) { s.pick = pick }
}

// NewAnthropic creates a strategy backed by the Anthropic Messages API.
func NewAnthropic(apiKey, model string, opts ...LanguageModelOption) *LanguageModelStrategy {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewLanguageModel(&client.Messages, model, opts...)
}

func NewLanguageModel(client MessagesClient, model string, opts ...LanguageModelOption) *LanguageModelStrategy {
	if model == "" {
		model = DefaultModel
	}
	s := &LanguageModelStrategy{
		client:    client,
		model:     model,
		maxTokens: defaultMaxTokens,
		persona:   DefaultPersona,
		pick:      rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LanguageModelStrategy) Generate(ctx context.Context, thread []*models.Message, incoming *models.Message) (*Reply, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(s.model),
		MaxTokens:   s.maxTokens,
		Temperature: anthropic.Float(1.0),
		System:      []anthropic.TextBlockParam{{Text: s.systemPrompt(ctx, incoming)}},
		Messages:    conversation(thread, incoming),
	}

	res, err := s.client.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}

	var text strings.Builder
	for _, block := range res.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	body := strings.TrimSpace(text.String())
	if body == "" {
		return nil, nil
	}
	return &Reply{Subject: Subject(incoming.Subject), Body: body}, nil
}

func (s *LanguageModelStrategy) systemPrompt(ctx context.Context, incoming *models.Message) string {
	var sb strings.Builder

	sb.WriteString(strings.ReplaceAll(s.persona, "{name}", s.name(ctx, incoming)))
	if len(TopicHints) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(TopicHints[s.pick(len(TopicHints))])
	}

	if notes := s.notes(ctx, incoming.Sender.Address); notes != "" {
		sb.WriteString("\n\nWhat you know about the person you are writing to:\n")
		sb.WriteString(notes)
	}

	return sb.String()
}

func (s *LanguageModelStrategy) name(ctx context.Context, incoming *models.Message) string {
	if s.names != nil {
		name, err := s.names.DisplayName(ctx, incoming.Recipient.LocalPart())
		if err == nil && name != "" {
			return name
		}
	}
	if incoming.Recipient.Name != "" {
		return incoming.Recipient.Name
	}
	return incoming.Recipient.LocalPart()
}

func (s *LanguageModelStrategy) notes(ctx context.Context, address string) string {
	if s.profiles == nil {
		return ""
	}

	profile, err := s.profiles.Profile(ctx, address)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to load correspondent profile", "address", address, "error", err)
		return ""
	}
	if profile == nil || len(profile.Data) == 0 {
		return ""
	}

	out, err := yaml.Marshal(profile.Data)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// conversation turns the most recent thread messages into alternating turns,
// oldest first. Messages written by the answering account are assistant
// turns. The result starts and ends with a user turn.
func conversation(thread []*models.Message, incoming *models.Message) []anthropic.MessageParam {
	history := slices.Clone(thread)
	slices.Reverse(history)

	if !slices.ContainsFunc(history, func(m *models.Message) bool { return m.ID == incoming.ID }) {
		history = append(history, incoming)
	}
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	type turn struct {
		assistant bool
		text      []string
	}
	var turns []turn
	for _, m := range history {
		assistant := m.Sender.Address == incoming.Recipient.Address
		if len(turns) == 0 && assistant {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].assistant == assistant {
			turns[n-1].text = append(turns[n-1].text, turnText(m, assistant))
			continue
		}
		turns = append(turns, turn{assistant: assistant, text: []string{turnText(m, assistant)}})
	}
	for len(turns) > 0 && turns[len(turns)-1].assistant {
		turns = turns[:len(turns)-1]
	}
	if len(turns) == 0 {
		turns = append(turns, turn{text: []string{turnText(incoming, false)}})
	}

	params := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(strings.Join(t.text, "\n\n"))
		if t.assistant {
			params = append(params, anthropic.NewAssistantMessage(block))
		} else {
			params = append(params, anthropic.NewUserMessage(block))
		}
	}
	return params
}

func turnText(m *models.Message, assistant bool) string {
	if assistant || m.Subject == "" {
		return m.Body
	}
	return "Subject: " + m.Subject + "\n\n" + m.Body
}
