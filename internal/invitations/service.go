// Package invitations implements the workspace invitation lifecycle: issuing, accepting,
// revoking and expiring invitations while keeping the local database, the external directory
// provider and the event outbox consistent.
//
// Every state transition is a conditional update on the invitation row, so concurrent callers
// race safely without locks: one wins, the rest observe a no-op. External provider calls are
// never made while a local transaction is open, and their failures never undo a committed
// local change.
package invitations

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/huddlehq/huddle/internal/db/models"
	"github.com/huddlehq/huddle/internal/db/repositories"
	"github.com/huddlehq/huddle/internal/directory"
)

var (
	ErrInvalidRole       = errors.New("invalid workspace role")
	ErrWorkspaceNotFound = errors.New("workspace not found")
)

// InvitationStore persists invitations. Every method runs on the handle it is given.
type InvitationStore interface {
	Insert(ctx context.Context, q sqlx.ExtContext, inv *models.Invitation) error
	FindByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Invitation, error)
	FindByDirectoryInviteID(ctx context.Context, q sqlx.ExtContext, directoryInviteID string) (*models.Invitation, error)
	ListByWorkspace(ctx context.Context, q sqlx.ExtContext, workspaceID string, filter repositories.InvitationFilter) ([]*models.Invitation, error)
	FindPendingByEmail(ctx context.Context, q sqlx.ExtContext, email string) ([]*models.Invitation, error)
	FindPendingByEmailAndWorkspace(ctx context.Context, q sqlx.ExtContext, email, workspaceID string) (*models.Invitation, error)
	FindPendingByEmailsAndWorkspace(ctx context.Context, q sqlx.ExtContext, emails []string, workspaceID string) ([]*models.Invitation, error)
	UpdateStatus(ctx context.Context, q sqlx.ExtContext, id string, status models.InvitationStatus, opts repositories.TransitionOptions) (bool, error)
	SetDirectoryInviteID(ctx context.Context, q sqlx.ExtContext, id, directoryInviteID string) error
	MarkExpired(ctx context.Context, q sqlx.ExtContext, workspaceID string) (int64, error)
}

// OutboxStore appends events on the caller's transaction.
type OutboxStore interface {
	Insert(ctx context.Context, tx sqlx.ExtContext, eventType string, payload interface{}) (*models.OutboxEvent, error)
}

// WorkspaceStore reads workspaces and sets their directory linkage.
type WorkspaceStore interface {
	GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Workspace, error)
	SetDirectoryOrganizationIDIfUnset(ctx context.Context, q sqlx.ExtContext, id, orgID string) (bool, error)
}

// UserStore reads users.
type UserStore interface {
	GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.User, error)
	FindByEmails(ctx context.Context, q sqlx.ExtContext, emails []string) ([]*models.User, error)
}

// MemberStore answers membership questions.
type MemberStore interface {
	IsMember(ctx context.Context, q sqlx.ExtContext, workspaceID, userID string) (bool, error)
	ListMemberUserIDs(ctx context.Context, q sqlx.ExtContext, workspaceID string, userIDs []string) ([]string, error)
}

// MembershipCollaborator creates the member row when an invitation is accepted. It must write
// on the transaction it is handed, and return a nil member when the row already exists.
type MembershipCollaborator interface {
	CreateMemberInTransaction(ctx context.Context, tx sqlx.ExtContext, params repositories.CreateMemberParams) (*models.WorkspaceMember, error)
}

// Transactor scopes work to transactions and savepoints. db.TxManager implements it.
type Transactor interface {
	Querier() sqlx.ExtContext
	WithTx(ctx context.Context, fn func(tx sqlx.ExtContext) error) error
	WithSavepoint(ctx context.Context, tx sqlx.ExtContext, name string, fn func() error) error
}

// Config tunes the service
type Config struct {
	// TTL is how long a new invitation stays acceptable.
	TTL time.Duration
	// SendConcurrency caps in-flight directory sends per SendInvitations call.
	SendConcurrency int
}

// Deps are the collaborators the service coordinates. Directory may be nil, in which case
// invitations are local only and no external calls are made.
type Deps struct {
	Tx          Transactor
	Invitations InvitationStore
	Outbox      OutboxStore
	Workspaces  WorkspaceStore
	Users       UserStore
	Members     MemberStore
	Membership  MembershipCollaborator
	Directory   directory.Adapter
	Logger      *slog.Logger
}

// Service coordinates the invitation lifecycle
type Service struct {
	tx          Transactor
	invitations InvitationStore
	outbox      OutboxStore
	workspaces  WorkspaceStore
	users       UserStore
	members     MemberStore
	membership  MembershipCollaborator
	directory   directory.Adapter
	logger      *slog.Logger

	ttl             time.Duration
	sendConcurrency int
	now             func() time.Time
}

// NewService creates a new invitation service
func NewService(deps Deps, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	concurrency := cfg.SendConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	return &Service{
		tx:              deps.Tx,
		invitations:     deps.Invitations,
		outbox:          deps.Outbox,
		workspaces:      deps.Workspaces,
		users:           deps.Users,
		members:         deps.Members,
		membership:      deps.Membership,
		directory:       deps.Directory,
		logger:          logger.With("component", "invitations"),
		ttl:             ttl,
		sendConcurrency: concurrency,
		now:             time.Now,
	}
}
