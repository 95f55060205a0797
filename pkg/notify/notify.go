package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/keyfold/keyfold/pkg/async"
	"github.com/keyfold/keyfold/pkg/directory"
)

// MemberLookup resolves members for cross-referencing messages, such as
// telling an inviter that their invite was accepted.
type MemberLookup interface {
	GetMember(ctx context.Context, memberID string) (*directory.OrganisationMember, error)
}

// Config carries notification settings.
type Config struct {
	// BaseURL is the externally reachable address of the web app, used to
	// build invite links.
	BaseURL string

	// Workers bounds concurrent deliveries.
	Workers int

	// SendTimeout bounds a single delivery attempt.
	SendTimeout time.Duration
}

// Service renders and delivers lifecycle emails.
type Service struct {
	mailer  Mailer
	members MemberLookup
	cfg     Config
	pool    *async.Pool
}

// NewService creates a notification service with a running delivery pool.
func NewService(mailer Mailer, members MemberLookup, cfg Config) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Service{
		mailer:  mailer,
		members: members,
		cfg:     cfg,
		pool:    async.NewPool(context.Background(), cfg.Workers, "email delivery", cfg.SendTimeout),
	}
}

// Shutdown drains pending deliveries.
func (s *Service) Shutdown(timeout time.Duration) {
	s.pool.Shutdown(timeout)
}

// SendWelcome greets a new member of an organisation.
func (s *Service) SendWelcome(_ context.Context, member *directory.OrganisationMember) error {
	to := member.Email
	body := fmt.Sprintf(
		"Hi,\n\nYour Keyfold account is ready. Sign in at %s to set up your workspace.\n\nThe Keyfold team\n",
		s.cfg.BaseURL,
	)
	s.pool.Submit(func(ctx context.Context) error {
		return s.mailer.Send(ctx, to, "Welcome to Keyfold", body)
	})
	return nil
}

// SendInvite mails an invite link to the invited address.
func (s *Service) SendInvite(_ context.Context, invite *directory.OrganisationMemberInvite) error {
	to := invite.InviteeEmail
	link := fmt.Sprintf("%s/invite/%s?org=%s", s.cfg.BaseURL, invite.ID, invite.OrganisationID)
	body := fmt.Sprintf(
		"Hi,\n\nYou have been invited to join an organisation on Keyfold.\n\nAccept the invite before %s:\n%s\n\nThe Keyfold team\n",
		invite.ExpiresAt.Format("Jan 2, 2006"),
		link,
	)
	s.pool.Submit(func(ctx context.Context) error {
		return s.mailer.Send(ctx, to, "You have been invited to Keyfold", body)
	})
	return nil
}

// SendUserJoined tells the inviter that their invite was accepted.
func (s *Service) SendUserJoined(_ context.Context, invite *directory.OrganisationMemberInvite, member *directory.OrganisationMember) error {
	inviterID := invite.InvitedBy
	joined := member.Email
	s.pool.Submit(func(ctx context.Context) error {
		inviter, err := s.members.GetMember(ctx, inviterID)
		if err != nil {
			return fmt.Errorf("failed to resolve inviter: %w", err)
		}
		body := fmt.Sprintf(
			"Hi,\n\n%s accepted your invite and joined your organisation on Keyfold.\n\nThe Keyfold team\n",
			joined,
		)
		return s.mailer.Send(ctx, inviter.Email, "Your invite was accepted", body)
	})
	return nil
}
