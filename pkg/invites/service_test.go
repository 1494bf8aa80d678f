package invites

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/config"
	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/orgs"
	"github.com/platinummonkey/passportd/pkg/storage/storagetest"
	"github.com/platinummonkey/passportd/pkg/users"
)

const strongPassword = "Sup3r$ecret"

type recordingNotifier struct {
	mu       sync.Mutex
	messages []*Message
	err      error
}

func (n *recordingNotifier) Notify(ctx context.Context, msg *Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

func (n *recordingNotifier) all() []*Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Message(nil), n.messages...)
}

type recordingInvalidator struct {
	mu   sync.Mutex
	keys [][2]uuid.UUID
}

func (r *recordingInvalidator) InvalidateMembership(ctx context.Context, orgID, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, [2]uuid.UUID{orgID, userID})
}

type testEnv struct {
	db       *sql.DB
	svc      *Service
	orgs     *orgs.Service
	users    *users.Store
	notifier *recordingNotifier
	cache    *recordingInvalidator
	metrics  *observability.Metrics
	clock    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := storagetest.NewDB(t)
	env := &testEnv{
		db:       db,
		users:    users.NewStore(db),
		notifier: &recordingNotifier{},
		cache:    &recordingInvalidator{},
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		clock:    time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC),
	}
	env.svc = NewService(db, config.InvitationConfig{
		Domain:          "passports.example.com",
		Expiry:          72 * time.Hour,
		Sender:          "no-reply@example.com",
		DispatchTimeout: time.Second,
	}, WithNotifier(env.notifier), WithInvalidator(env.cache), WithMetrics(env.metrics))
	env.svc.now = func() time.Time { return env.clock }
	env.orgs = orgs.NewService(db, orgs.WithInviter(env.svc))
	return env
}

func (e *testEnv) user(t *testing.T, email string) *users.User {
	t.Helper()
	u := &users.User{Email: email, FirstName: "Grace", LastName: "Mbuyi", IsActive: true}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

func (e *testEnv) org(t *testing.T, owner *users.User, name string) *orgs.Organization {
	t.Helper()
	org, err := e.orgs.CreateOrganization(context.Background(), owner, orgs.CreateRequest{Name: name})
	require.NoError(t, err)
	return org
}

// messages waits for in-flight dispatches and returns everything sent so far
func (e *testEnv) messages(t *testing.T) []*Message {
	t.Helper()
	require.NoError(t, e.svc.Wait(time.Second))
	return e.notifier.all()
}

func linkParts(t *testing.T, msg *Message) (uuid.UUID, string) {
	t.Helper()
	parts := strings.Split(msg.Link, "/")
	require.GreaterOrEqual(t, len(parts), 2)
	userID, err := uuid.Parse(parts[len(parts)-2])
	require.NoError(t, err)
	return userID, parts[len(parts)-1]
}

func TestInviteByEmail_Activate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner@example.com")
	org := env.org(t, owner, "Acme Visas")

	require.NoError(t, env.orgs.AddOrganizationUser(ctx, org, "New.Agent@Example.com", true, owner))

	msgs := env.messages(t)
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, MessageActivation, msg.Kind)
	assert.Equal(t, "new.agent@example.com", msg.To)
	assert.Equal(t, "no-reply@example.com", msg.From)
	assert.Equal(t, org.ID, msg.OrganizationID)
	assert.Contains(t, msg.Subject, "Acme Visas")
	assert.Contains(t, msg.Body, "Grace Mbuyi")
	assert.True(t, strings.HasPrefix(msg.Link, "https://passports.example.com/register/"), msg.Link)

	userID, token := linkParts(t, msg)
	invited, err := env.users.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, invited.IsActive)
	assert.Equal(t, "new.agent@example.com", invited.Email)

	t.Run("weak password is rejected before the token is used", func(t *testing.T) {
		_, err := env.svc.Activate(ctx, userID, token, "password")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.True(t, errors.Is(err, ErrWeakPassword))

		_, err = env.svc.Activate(ctx, userID, "not-the-token", "password")
		assert.True(t, errors.Is(err, ErrWeakPassword))
	})

	t.Run("wrong token", func(t *testing.T) {
		_, err := env.svc.Activate(ctx, userID, "not-the-token", strongPassword)
		assert.True(t, apperr.IsNotFound(err))
		assert.Equal(t, ExpiredLinkMessage, apperr.MessageOf(err))

		_, err = env.svc.Activate(ctx, uuid.New(), token, strongPassword)
		assert.True(t, apperr.IsNotFound(err))
	})

	user, err := env.svc.Activate(ctx, userID, token, strongPassword)
	require.NoError(t, err)
	assert.True(t, user.IsActive)

	authed, err := env.users.Authenticate(ctx, "new.agent@example.com", strongPassword)
	require.NoError(t, err)
	assert.Equal(t, userID, authed.ID)

	role, err := env.orgs.RoleOf(ctx, org, userID)
	require.NoError(t, err)
	assert.Equal(t, orgs.RoleAdmin, role)
	assert.Contains(t, env.cache.keys, [2]uuid.UUID{org.ID, userID})

	t.Run("token is single use", func(t *testing.T) {
		_, err := env.svc.Activate(ctx, userID, token, strongPassword)
		assert.True(t, apperr.IsNotFound(err))
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.InvitationsTotal.WithLabelValues("invite", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.InvitationsTotal.WithLabelValues("activate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.InvitationsTotal.WithLabelValues("dispatch_activation", "sent")))
}

func TestActivate_ConvertsEveryPendingInvitation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner@example.com")
	first := env.org(t, owner, "First")
	second := env.org(t, owner, "Second")

	require.NoError(t, env.orgs.AddOrganizationUser(ctx, first, "agent@example.com", false, owner))
	require.Len(t, env.messages(t), 1)
	require.NoError(t, env.orgs.AddOrganizationUser(ctx, second, "agent@example.com", true, owner))

	msgs := env.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, MessageActivation, msgs[0].Kind)
	assert.Equal(t, MessageNotification, msgs[1].Kind)

	userID, token := linkParts(t, msgs[0])
	_, err := env.svc.Activate(ctx, userID, token, strongPassword)
	require.NoError(t, err)

	role, err := env.orgs.RoleOf(ctx, first, userID)
	require.NoError(t, err)
	assert.Equal(t, orgs.RoleMember, role)
	role, err = env.orgs.RoleOf(ctx, second, userID)
	require.NoError(t, err)
	assert.Equal(t, orgs.RoleAdmin, role)

	_, secondToken := linkParts(t, msgs[1])
	_, err = env.svc.Accept(ctx, userID, secondToken)
	assert.True(t, apperr.IsNotFound(err), "accepted invitations cannot be redeemed again")
}

func TestAccept_ExistingAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner@example.com")
	org := env.org(t, owner, "Acme")
	member := env.user(t, "member@example.com")

	require.NoError(t, env.orgs.AddOrganizationUser(ctx, org, member.Email, false, owner))
	msgs := env.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageNotification, msgs[0].Kind)
	assert.Equal(t, member.Email, msgs[0].To)

	userID, token := linkParts(t, msgs[0])
	assert.Equal(t, member.ID, userID)

	user, err := env.svc.Accept(ctx, userID, token)
	require.NoError(t, err)
	assert.Equal(t, member.ID, user.ID)

	role, err := env.orgs.RoleOf(ctx, org, member.ID)
	require.NoError(t, err)
	assert.Equal(t, orgs.RoleMember, role)
}

func TestAccept_InactiveAccountNeedsPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner@example.com")
	org := env.org(t, owner, "Acme")

	require.NoError(t, env.orgs.AddOrganizationUser(ctx, org, "fresh@example.com", false, owner))
	msgs := env.messages(t)
	require.Len(t, msgs, 1)
	userID, token := linkParts(t, msgs[0])

	_, err := env.svc.Accept(ctx, userID, token)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = env.svc.Activate(ctx, userID, token, strongPassword)
	assert.NoError(t, err, "a rejected accept leaves the invitation usable")
}

func TestExpiryAndCleanup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner@example.com")
	org := env.org(t, owner, "Acme")

	require.NoError(t, env.orgs.AddOrganizationUser(ctx, org, "late@example.com", false, owner))
	msgs := env.messages(t)
	require.Len(t, msgs, 1)
	userID, token := linkParts(t, msgs[0])

	n, err := env.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clock = env.clock.Add(73 * time.Hour)
	_, err = env.svc.Activate(ctx, userID, token, strongPassword)
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, ExpiredLinkMessage, apperr.MessageOf(err))

	n, err = env.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.InvitationsTotal.WithLabelValues("cleanup", "success")))
}

func TestRemind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner@example.com")
	org := env.org(t, owner, "Acme")

	require.NoError(t, env.orgs.AddOrganizationUser(ctx, org, "slow@example.com", false, owner))
	msgs := env.messages(t)
	require.Len(t, msgs, 1)
	userID, oldToken := linkParts(t, msgs[0])
	invitationID := msgs[0].InvitationID

	env.clock = env.clock.Add(48 * time.Hour)
	inv, err := env.svc.Remind(ctx, invitationID)
	require.NoError(t, err)
	assert.True(t, inv.ExpiresAt.Equal(env.clock.Add(72*time.Hour)))
	owning, ok := inv.OwningOrganization()
	assert.True(t, ok)
	assert.Equal(t, org.ID, owning)

	msgs = env.messages(t)
	require.Len(t, msgs, 2)
	reminder := msgs[1]
	assert.Equal(t, MessageReminder, reminder.Kind)
	assert.Equal(t, "slow@example.com", reminder.To)
	_, newToken := linkParts(t, reminder)
	assert.NotEqual(t, oldToken, newToken)

	_, err = env.svc.Activate(ctx, userID, oldToken, strongPassword)
	assert.True(t, apperr.IsNotFound(err), "rotated token no longer works")

	env.clock = env.clock.Add(48 * time.Hour)
	_, err = env.svc.Activate(ctx, userID, newToken, strongPassword)
	require.NoError(t, err, "expiry was extended")

	_, err = env.svc.Remind(ctx, invitationID)
	assert.Equal(t, apperr.KindDomainState, apperr.KindOf(err))

	_, err = env.svc.Remind(ctx, uuid.New())
	assert.True(t, apperr.IsNotFound(err))
}

func TestDispatchFailureIsCounted(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("smtp down")
	ctx := context.Background()
	owner := env.user(t, "owner@example.com")
	org := env.org(t, owner, "Acme")

	require.NoError(t, env.orgs.AddOrganizationUser(ctx, org, "x@example.com", false, owner))
	require.Len(t, env.messages(t), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.InvitationsTotal.WithLabelValues("dispatch_activation", "failed")))
}

func TestInviteByEmail_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	notifier := &recordingNotifier{}
	svc := NewService(db, config.InvitationConfig{Domain: "example.com"}, WithNotifier(notifier))
	org := &orgs.Organization{ID: uuid.New(), Name: "Acme"}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO invitations`).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err = svc.InviteByEmail(context.Background(), org, "a@example.com", false, nil)
	assert.Error(t, err)
	require.NoError(t, svc.Wait(time.Second))
	assert.Empty(t, notifier.all())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInviteByEmail_ExistingAddressConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner@example.com")
	org := env.org(t, owner, "Acme")

	err := env.svc.InviteByEmail(ctx, org, "OWNER@example.com", false, owner)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Empty(t, env.messages(t))

	err = env.svc.InviteByEmail(ctx, org, "  ", false, owner)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(observability.NewLogger(observability.InfoLevel, &buf))

	err := n.Notify(context.Background(), &Message{Kind: MessageReminder, To: "a@example.com", Link: "https://x/register/1/2"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "invitation message")
	assert.Contains(t, buf.String(), "https://x/register/1/2")

	assert.Error(t, n.Notify(context.Background(), nil))
}
