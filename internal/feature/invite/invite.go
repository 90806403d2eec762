// Package invite generates invite links for tracked groups together with
// AI-written invite copy and group insights.
package invite

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"telebridge/internal/config"
	"telebridge/internal/domain"
	"telebridge/internal/logging"
)

// MsgNotConnected is returned when no bot token is stored.
const MsgNotConnected = "Connect your bot in settings first!"

// Groups is the part of the group engine the invite flow reads and touches.
type Groups interface {
	Token() string
	Group(id string) (domain.Group, bool)
	Touch(ctx context.Context, groupID string) (bool, error)
}

// LinkCreator creates Bot API invite links.
type LinkCreator interface {
	CreateInviteLink(ctx context.Context, token, chatID string, memberLimit, expireMinutes int) (string, error)
}

// Copywriter produces AI copy and never fails.
type Copywriter interface {
	DescribeLinkInvite(ctx context.Context, groupName string) string
	GroupInsights(ctx context.Context, group domain.Group) domain.Insight
}

// Observer counts invite attempts by outcome.
type Observer interface {
	ObserveInvite(outcome string)
}

// Invite is a freshly created link.
type Invite struct {
	GroupID       string     `json:"group_id"`
	GroupName     string     `json:"group_name"`
	Link          string     `json:"link"`
	Description   string     `json:"description"`
	MemberLimit   int        `json:"member_limit"`
	ExpireMinutes int        `json:"expire_minutes"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Service runs the invite flow.
type Service struct {
	groups        Groups
	links         LinkCreator
	copy          Copywriter
	observer      Observer
	logger        *logrus.Entry
	memberLimit   int
	expireMinutes int
	now           func() time.Time
}

// NewService builds the flow with the invite limits from cfg.
func NewService(cfg config.Config, groups Groups, links LinkCreator, copywriter Copywriter, observer Observer, logger *logrus.Entry) *Service {
	memberLimit := cfg.InviteMemberLimit
	if memberLimit <= 0 {
		memberLimit = config.DefaultInviteMemberLimit
	}

	return &Service{
		groups:        groups,
		links:         links,
		copy:          copywriter,
		observer:      observer,
		logger:        logging.OrDefault(logger),
		memberLimit:   memberLimit,
		expireMinutes: cfg.InviteExpireMinutes,
		now:           time.Now,
	}
}

// Generate opens the group (updating its lastInteraction), creates a new
// invite link and writes invite copy for it. Link failures surface as link
// errors; the copy always has a value.
func (s *Service) Generate(ctx context.Context, groupID string) (Invite, error) {
	if err := s.ready(ctx); err != nil {
		return Invite{}, err
	}

	group, ok := s.groups.Group(groupID)
	if !ok {
		return Invite{}, domain.ErrGroupNotFound
	}

	token := s.groups.Token()
	if token == "" {
		s.observe("rejected")
		return Invite{}, domain.NewError(domain.ErrLink, MsgNotConnected, domain.ErrNotConnected)
	}

	if _, err := s.groups.Touch(ctx, group.ID); err != nil {
		return Invite{}, err
	}

	copyCh := make(chan string, 1)
	go func() {
		copyCh <- s.copy.DescribeLinkInvite(ctx, group.Name)
	}()

	createdAt := s.now()
	link, err := s.links.CreateInviteLink(ctx, token, group.ID, s.memberLimit, s.expireMinutes)
	if err != nil {
		s.observe("rejected")
		logging.WithContext(s.logger, logging.Context{ChatID: group.ID, Event: "invite_failed"}).
			WithError(err).Warn("invite link creation failed")
		return Invite{}, err
	}

	invite := Invite{
		GroupID:       group.ID,
		GroupName:     group.Name,
		Link:          link,
		Description:   <-copyCh,
		MemberLimit:   s.memberLimit,
		ExpireMinutes: s.expireMinutes,
		CreatedAt:     createdAt,
	}
	if s.expireMinutes > 0 {
		expiresAt := createdAt.Add(time.Duration(s.expireMinutes) * time.Minute)
		invite.ExpiresAt = &expiresAt
	}

	s.observe("ok")
	logging.WithContext(s.logger, logging.Context{ChatID: group.ID, Event: "invite_created"}).
		WithField("member_limit", s.memberLimit).Info("invite link created")

	return invite, nil
}

// Insights returns the AI analysis of a tracked group.
func (s *Service) Insights(ctx context.Context, groupID string) (domain.Insight, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Insight{}, err
	}

	group, ok := s.groups.Group(groupID)
	if !ok {
		return domain.Insight{}, domain.ErrGroupNotFound
	}

	return s.copy.GroupInsights(ctx, group), nil
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveInvite(outcome)
	}
}

func (s *Service) ready(ctx context.Context) error {
	if s == nil || s.groups == nil || s.links == nil || s.copy == nil {
		return errors.New("invite service is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
