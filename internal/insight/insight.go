// Package insight produces AI-generated copy for groups and invite links.
// Every call degrades to a fixed fallback instead of returning an error.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"telebridge/internal/config"
	"telebridge/internal/domain"
	"telebridge/internal/logging"
)

// Fallback values returned when generation is unavailable or fails.
const (
	FallbackTitle      = "Group Analysis"
	FallbackSummary    = "Could not generate insights at this time."
	FallbackSuggestion = "Try again later."
)

// Kinds reported to the Observer.
const (
	KindInsights   = "insights"
	KindInviteCopy = "invite_copy"
)

const insightsPrompt = `Analyze this Telegram group and provide administrative insights:
Name: %s
Description: %s
Members: %d
Category: %s

Provide a professional summary, a strategy for growth, and a creative suggestion for member retention.`

const inviteCopyPrompt = `Generate a short, enticing 1-sentence invite message for a group named %q that emphasizes exclusivity.`

var insightSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":      {Type: genai.TypeString},
		"summary":    {Type: genai.TypeString},
		"suggestion": {Type: genai.TypeString},
	},
	Required: []string{"title", "summary", "suggestion"},
}

// Observer is told whether each call produced generated text or a fallback.
type Observer interface {
	ObserveInsight(kind, outcome string)
}

// contentGenerator is the part of genai.Models the service calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// newGenerator is overridable for tests.
var newGenerator = func(ctx context.Context, cfg config.Config) (contentGenerator, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.GeminiBaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.GeminiBaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, err
	}
	return client.Models, nil
}

// Service is the insight gateway.
type Service struct {
	generator contentGenerator
	model     string
	logger    *logrus.Entry
	observer  Observer
}

// New builds the service. Without GEMINI_API_KEY, or when the client cannot be
// created, every call returns its fallback.
func New(ctx context.Context, cfg config.Config, logger *logrus.Entry, observer Observer) *Service {
	s := &Service{
		model:    firstNonEmpty(cfg.GeminiModel, config.DefaultGeminiModel),
		logger:   logging.OrDefault(logger).WithField("component", "insight"),
		observer: observer,
	}

	if !cfg.InsightsEnabled() {
		s.logger.WithField("event", "insight_disabled").Info("gemini api key not set; using fallback copy")
		return s
	}

	if ctx == nil {
		ctx = context.Background()
	}

	generator, err := newGenerator(ctx, cfg)
	if err != nil {
		s.logger.WithError(err).WithField("event", "insight_client_failed").Warn("gemini client unavailable; using fallback copy")
		return s
	}
	s.generator = generator

	return s
}

// Enabled reports whether calls reach the model.
func (s *Service) Enabled() bool {
	return s != nil && s.generator != nil
}

// DescribeLinkInvite returns a one-sentence invite message for groupName.
func (s *Service) DescribeLinkInvite(ctx context.Context, groupName string) string {
	fallback := FallbackInviteCopy(groupName)
	if !s.Enabled() {
		s.observe(KindInviteCopy, "fallback")
		return fallback
	}

	text, err := s.generate(ctx, fmt.Sprintf(inviteCopyPrompt, groupName), nil)
	if err != nil || text == "" {
		s.fail(KindInviteCopy, err)
		return fallback
	}

	s.observe(KindInviteCopy, "ok")
	return text
}

// GroupInsights returns a title/summary/suggestion analysis of group.
func (s *Service) GroupInsights(ctx context.Context, group domain.Group) domain.Insight {
	if !s.Enabled() {
		s.observe(KindInsights, "fallback")
		return FallbackInsight()
	}

	prompt := fmt.Sprintf(insightsPrompt, group.Name, group.Description, group.MemberCount, group.Category)
	text, err := s.generate(ctx, prompt, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   insightSchema,
	})
	if err != nil {
		s.fail(KindInsights, err)
		return FallbackInsight()
	}

	var result domain.Insight
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		s.fail(KindInsights, fmt.Errorf("decode insight: %w", err))
		return FallbackInsight()
	}
	if result.Title == "" || result.Summary == "" || result.Suggestion == "" {
		s.fail(KindInsights, errors.New("insight response is missing fields"))
		return FallbackInsight()
	}

	s.observe(KindInsights, "ok")
	return result
}

// FallbackInsight is the static analysis used when generation fails.
func FallbackInsight() domain.Insight {
	return domain.Insight{
		Title:      FallbackTitle,
		Summary:    FallbackSummary,
		Suggestion: FallbackSuggestion,
	}
}

// FallbackInviteCopy is the static invite sentence for groupName.
func FallbackInviteCopy(groupName string) string {
	return fmt.Sprintf("You're invited to join %s! This link is for your eyes only.", groupName)
}

func (s *Service) generate(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := s.generator.GenerateContent(ctx, s.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil {
		return "", errors.New("generate content returned no response")
	}

	return strings.TrimSpace(resp.Text()), nil
}

func (s *Service) fail(kind string, err error) {
	if err == nil {
		err = errors.New("empty response")
	}
	s.logger.WithError(err).WithFields(logging.Fields{
		"event": "insight_fallback",
		"kind":  kind,
	}).Warn("insight generation failed; using fallback")
	s.observe(kind, "fallback")
}

func (s *Service) observe(kind, outcome string) {
	if s == nil || s.observer == nil {
		return
	}
	s.observer.ObserveInsight(kind, outcome)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
