package invites

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/async"
	"github.com/platinummonkey/passportd/pkg/auth"
	"github.com/platinummonkey/passportd/pkg/config"
	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/orgs"
	"github.com/platinummonkey/passportd/pkg/storage/postgres"
	"github.com/platinummonkey/passportd/pkg/users"
)

// ExpiredLinkMessage is returned for any token that cannot be used
const ExpiredLinkMessage = "your URL may have expired"

// MembershipInvalidator drops cached memberships once an invitation is accepted
type MembershipInvalidator interface {
	InvalidateMembership(ctx context.Context, orgID, userID uuid.UUID)
}

// Service implements the invitation and registration flow. It satisfies
// orgs.Inviter.
type Service struct {
	db         *sql.DB
	store      *Store
	cfg        config.InvitationConfig
	notifier   Notifier
	policy     PasswordPolicy
	cache      MembershipInvalidator
	dispatcher *async.Dispatcher
	metrics    *observability.Metrics
	logger     *observability.Logger
	hasher     *auth.TokenGenerator
	now        func() time.Time
}

var _ orgs.Inviter = (*Service)(nil)

// Option configures a Service
type Option func(*Service)

// WithNotifier sets the message backend. The default logs messages.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithPolicy replaces DefaultPolicy
func WithPolicy(p PasswordPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func WithInvalidator(cache MembershipInvalidator) Option {
	return func(s *Service) { s.cache = cache }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates an invitation service
func NewService(db *sql.DB, cfg config.InvitationConfig, opts ...Option) *Service {
	s := &Service{
		db:     db,
		store:  NewStore(db),
		cfg:    cfg,
		policy: DefaultPolicy,
		hasher: auth.NewTokenGenerator(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.OrDefault(s.logger).WithField("component", "invites")
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	if s.cfg.Expiry <= 0 {
		s.cfg.Expiry = 72 * time.Hour
	}
	s.dispatcher = async.NewDispatcher(s.logger, s.cfg.DispatchTimeout)
	return s
}

// Store returns the service's store
func (s *Service) Store() *Store {
	return s.store
}

// Wait blocks until dispatched messages are delivered or timeout elapses
func (s *Service) Wait(timeout time.Duration) error {
	return s.dispatcher.Wait(timeout)
}

// ActivationLink builds the registration URL carried by invitation messages
func (s *Service) ActivationLink(userID uuid.UUID, token string) string {
	return fmt.Sprintf("https://%s/register/%s/%s", s.cfg.Domain, userID, token)
}

// InviteByEmail creates an inactive account for email and a pending
// invitation into org, then dispatches the activation message
func (s *Service) InviteByEmail(ctx context.Context, org *orgs.Organization, email string, isAdmin bool, sender *users.User) error {
	email = users.NormalizeEmail(email)
	if email == "" {
		return apperr.Validation("email is required")
	}

	var (
		inv   *Invitation
		token string
	)
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		user := &users.User{Email: email}
		if err := users.NewStore(tx).Create(ctx, user); err != nil {
			return err
		}
		var err error
		inv, token, err = s.create(ctx, NewStore(tx), org, user, isAdmin, sender)
		return err
	})
	s.count("invite", err)
	if err != nil {
		return err
	}

	s.dispatch(ctx, &Message{
		Kind:    MessageActivation,
		To:      email,
		Subject: fmt.Sprintf("You have been invited to join %s", org.Name),
		Body: fmt.Sprintf("%s invited you to join %s. Choose a password to activate your account.",
			senderName(sender), org.Name),
		Link:           s.ActivationLink(inv.UserID, token),
		OrganizationID: org.ID,
		InvitationID:   inv.ID,
	})
	return nil
}

// SendNotification creates a pending invitation for an existing account and
// tells the user they were added to org
func (s *Service) SendNotification(ctx context.Context, user *users.User, org *orgs.Organization, isAdmin bool, sender *users.User) error {
	if user == nil {
		return apperr.Validation("user is required")
	}
	inv, token, err := s.create(ctx, s.store, org, user, isAdmin, sender)
	s.count("notify", err)
	if err != nil {
		return err
	}

	s.dispatch(ctx, &Message{
		Kind:           MessageNotification,
		To:             user.Email,
		Subject:        fmt.Sprintf("You have been added to %s", org.Name),
		Body:           fmt.Sprintf("%s added you to %s. Follow the link to accept.", senderName(sender), org.Name),
		Link:           s.ActivationLink(user.ID, token),
		OrganizationID: org.ID,
		InvitationID:   inv.ID,
	})
	return nil
}

func (s *Service) create(ctx context.Context, store *Store, org *orgs.Organization, user *users.User, isAdmin bool, sender *users.User) (*Invitation, string, error) {
	token, err := generateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}
	now := s.now()
	inv := &Invitation{
		ID:             uuid.New(),
		OrganizationID: org.ID,
		UserID:         user.ID,
		Email:          user.Email,
		IsAdmin:        isAdmin,
		ExpiresAt:      now.Add(s.cfg.Expiry),
		CreatedAt:      now,
	}
	if sender != nil {
		inv.InvitedBy = &sender.ID
	}
	if err := store.Create(ctx, inv, s.hasher.HashToken(token)); err != nil {
		return nil, "", err
	}
	return inv, token, nil
}

// Activate sets the first password of an invited account and turns every
// pending invitation of the user into a membership. The password policy runs
// before the token is looked at.
func (s *Service) Activate(ctx context.Context, userID uuid.UUID, token, password string) (*users.User, error) {
	if err := s.policy.Check(password); err != nil {
		return nil, err
	}
	hash, err := users.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user, accepted, err := s.redeem(ctx, userID, token, func(tx *sql.Tx, user *users.User) error {
		return users.NewStore(tx).SetPassword(ctx, user.ID, hash)
	})
	s.count("activate", err)
	if err != nil {
		return nil, err
	}
	user.IsActive = true
	s.logger.WithFields(map[string]interface{}{
		"user_id":     userID.String(),
		"memberships": len(accepted),
	}).Info("account activated")
	return user, nil
}

// Accept redeems a token for an account that is already active
func (s *Service) Accept(ctx context.Context, userID uuid.UUID, token string) (*users.User, error) {
	user, accepted, err := s.redeem(ctx, userID, token, func(tx *sql.Tx, user *users.User) error {
		if !user.IsActive {
			return apperr.Validation("account is not active, a password is required")
		}
		return nil
	})
	s.count("accept", err)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{
		"user_id":     userID.String(),
		"memberships": len(accepted),
	}).Info("invitations accepted")
	return user, nil
}

// redeem verifies token for userID and, in the same transaction, runs prepare
// and converts the user's pending invitations into memberships
func (s *Service) redeem(ctx context.Context, userID uuid.UUID, token string, prepare func(*sql.Tx, *users.User) error) (*users.User, []*Invitation, error) {
	if token == "" {
		return nil, nil, apperr.NotFound(ExpiredLinkMessage)
	}
	now := s.now()

	var (
		user    *users.User
		pending []*Invitation
	)
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := NewStore(tx)
		if _, err := store.FindPending(ctx, userID, s.hasher.HashToken(token), now); err != nil {
			if apperr.IsNotFound(err) {
				return apperr.NotFound(ExpiredLinkMessage)
			}
			return err
		}

		var err error
		user, err = users.NewStore(tx).Get(ctx, userID)
		if apperr.IsNotFound(err) {
			return apperr.NotFound(ExpiredLinkMessage)
		}
		if err != nil {
			return err
		}
		if err := prepare(tx, user); err != nil {
			return err
		}

		pending, err = store.PendingForUser(ctx, userID, now)
		if err != nil {
			return err
		}
		members := orgs.NewStore(tx)
		for _, inv := range pending {
			if err := members.UpsertMembership(ctx, inv.OrganizationID, userID, inv.IsAdmin, now); err != nil {
				return err
			}
		}
		_, err = store.MarkAccepted(ctx, userID, now)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if s.cache != nil {
		for _, inv := range pending {
			s.cache.InvalidateMembership(ctx, inv.OrganizationID, userID)
		}
	}
	return user, pending, nil
}

// Remind rotates the token of a pending invitation, extends its expiry and
// sends the link again
func (s *Service) Remind(ctx context.Context, invitationID uuid.UUID) (*Invitation, error) {
	inv, err := s.store.Get(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if inv.AcceptedAt != nil {
		return nil, apperr.DomainState("invitation has already been accepted")
	}
	org, err := orgs.NewStore(s.db).Organization(ctx, orgs.ByID(inv.OrganizationID))
	if err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	inv.ExpiresAt = s.now().Add(s.cfg.Expiry)
	err = s.store.Rotate(ctx, inv.ID, s.hasher.HashToken(token), inv.ExpiresAt)
	s.count("remind", err)
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, &Message{
		Kind:           MessageReminder,
		To:             inv.Email,
		Subject:        fmt.Sprintf("Reminder: your invitation to %s", org.Name),
		Body:           fmt.Sprintf("Your invitation to join %s is still waiting.", org.Name),
		Link:           s.ActivationLink(inv.UserID, token),
		OrganizationID: org.ID,
		InvitationID:   inv.ID,
	})
	return inv, nil
}

// CleanupExpired deletes expired invitations that were never accepted
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	s.count("cleanup", err)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.WithField("count", n).Info("expired invitations removed")
	}
	return n, nil
}

func (s *Service) dispatch(ctx context.Context, msg *Message) {
	msg.From = s.cfg.Sender
	notifier := s.notifier
	kind := string(msg.Kind)
	s.dispatcher.Go(ctx, "invitation "+kind, func(ctx context.Context) error {
		err := notifier.Notify(ctx, msg)
		if s.metrics != nil {
			status := "sent"
			if err != nil {
				status = "failed"
			}
			s.metrics.InvitationsTotal.WithLabelValues("dispatch_"+kind, status).Inc()
		}
		return err
	})
}

func (s *Service) count(kind string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.InvitationsTotal.WithLabelValues(kind, status).Inc()
}

func senderName(sender *users.User) string {
	if sender == nil {
		return "An administrator"
	}
	if name := sender.FullName(); name != "" {
		return name
	}
	return sender.Email
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
