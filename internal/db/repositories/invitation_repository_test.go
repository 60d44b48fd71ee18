package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/huddlehq/huddle/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var invCols = []string{
	"id", "workspace_id", "email", "role", "status", "invited_by", "directory_invite_id",
	"created_at", "expires_at", "accepted_at", "revoked_at",
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

func sampleInvRow() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(invCols).
		AddRow("inv-1", "ws-1", "alice@x.com", "member", "pending", "user-1", nil,
			now, now.Add(7*24*time.Hour), nil, nil)
}

func emptyInvRows() *sqlmock.Rows {
	return sqlmock.NewRows(invCols)
}

// ---------------------------------------------------------------------------
// Insert
// ---------------------------------------------------------------------------

func TestInvitationInsert_Success(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvitationRepository()
	expires := time.Now().Add(time.Hour)

	mock.ExpectQuery("INSERT INTO invitations").
		WithArgs(sqlmock.AnyArg(), "ws-1", "alice@x.com", models.WorkspaceRoleMember,
			models.InvitationStatusPending, "user-1", expires).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	inv := &models.Invitation{
		WorkspaceID: "ws-1",
		Email:       "alice@x.com",
		Role:        models.WorkspaceRoleMember,
		InvitedBy:   "user-1",
		ExpiresAt:   expires,
	}
	if err := repo.Insert(context.Background(), db, inv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.ID == "" {
		t.Error("expected generated ID")
	}
	if inv.Status != models.InvitationStatusPending {
		t.Errorf("Status = %s, want pending", inv.Status)
	}
	if inv.CreatedAt.IsZero() {
		t.Error("CreatedAt not populated")
	}
	assertExpectations(t, mock)
}

func TestInvitationInsert_KeepsProvidedID(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("INSERT INTO invitations").
		WithArgs("inv-fixed", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	inv := &models.Invitation{ID: "inv-fixed", WorkspaceID: "ws-1"}
	if err := NewInvitationRepository().Insert(context.Background(), db, inv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.ID != "inv-fixed" {
		t.Errorf("ID = %s, want inv-fixed", inv.ID)
	}
}

func TestInvitationInsert_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("INSERT INTO invitations").WillReturnError(errDB)

	err := NewInvitationRepository().Insert(context.Background(), db, &models.Invitation{})
	if err == nil {
		t.Fatal("expected error")
	}
}

// ---------------------------------------------------------------------------
// FindByID / FindByDirectoryInviteID
// ---------------------------------------------------------------------------

func TestInvitationFindByID_Found(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .* FROM invitations WHERE id").
		WithArgs("inv-1").
		WillReturnRows(sampleInvRow())

	inv, err := NewInvitationRepository().FindByID(context.Background(), db, "inv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv == nil {
		t.Fatal("expected invitation, got nil")
	}
	if inv.Email != "alice@x.com" || inv.Status != models.InvitationStatusPending {
		t.Errorf("unexpected invitation: %+v", inv)
	}
	if inv.DirectoryInviteID != nil {
		t.Errorf("DirectoryInviteID = %v, want nil", inv.DirectoryInviteID)
	}
}

func TestInvitationFindByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .* FROM invitations WHERE id").WillReturnRows(emptyInvRows())

	inv, err := NewInvitationRepository().FindByID(context.Background(), db, "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestInvitationFindByID_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .* FROM invitations WHERE id").WillReturnError(errDB)

	if _, err := NewInvitationRepository().FindByID(context.Background(), db, "inv-1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestInvitationFindByDirectoryInviteID(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .* FROM invitations WHERE directory_invite_id").
		WithArgs("dir-inv-1").
		WillReturnRows(sampleInvRow())

	inv, err := NewInvitationRepository().FindByDirectoryInviteID(context.Background(), db, "dir-inv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv == nil || inv.ID != "inv-1" {
		t.Errorf("unexpected invitation: %+v", inv)
	}
}

// ---------------------------------------------------------------------------
// ListByWorkspace
// ---------------------------------------------------------------------------

func TestInvitationListByWorkspace_NoFilter(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .* FROM invitations WHERE workspace_id = \\$1 ORDER BY created_at DESC").
		WithArgs("ws-1").
		WillReturnRows(sampleInvRow())

	list, err := NewInvitationRepository().ListByWorkspace(context.Background(), db, "ws-1", InvitationFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len = %d, want 1", len(list))
	}
}

func TestInvitationListByWorkspace_StatusFilter(t *testing.T) {
	db, mock := newMockDB(t)
	status := models.InvitationStatusRevoked
	mock.ExpectQuery("SELECT .* FROM invitations WHERE workspace_id = \\$1 AND status = \\$2").
		WithArgs("ws-1", status).
		WillReturnRows(emptyInvRows())

	list, err := NewInvitationRepository().ListByWorkspace(context.Background(), db, "ws-1", InvitationFilter{Status: &status})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("list = %v, want empty non-nil slice", list)
	}
}

// ---------------------------------------------------------------------------
// Pending lookups
// ---------------------------------------------------------------------------

func TestInvitationFindPendingByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM invitations.*WHERE email = \\$1 AND status = 'pending' AND expires_at > NOW\\(\\)").
		WithArgs("alice@x.com").
		WillReturnRows(sampleInvRow())

	list, err := NewInvitationRepository().FindPendingByEmail(context.Background(), db, "alice@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len = %d, want 1", len(list))
	}
}

func TestInvitationFindPendingByEmailAndWorkspace_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM invitations.*WHERE email = \\$1 AND workspace_id = \\$2 AND status = 'pending'").
		WithArgs("alice@x.com", "ws-1").
		WillReturnRows(emptyInvRows())

	inv, err := NewInvitationRepository().FindPendingByEmailAndWorkspace(context.Background(), db, "alice@x.com", "ws-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestInvitationFindPendingByEmailsAndWorkspace(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM invitations.*email = ANY\\(\\$2\\)").
		WithArgs("ws-1", sqlmock.AnyArg()).
		WillReturnRows(sampleInvRow())

	list, err := NewInvitationRepository().FindPendingByEmailsAndWorkspace(context.Background(), db, []string{"alice@x.com", "bob@x.com"}, "ws-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len = %d, want 1", len(list))
	}
}

func TestInvitationFindPendingByEmailsAndWorkspace_EmptyInput(t *testing.T) {
	db, mock := newMockDB(t)

	list, err := NewInvitationRepository().FindPendingByEmailsAndWorkspace(context.Background(), db, nil, "ws-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("len = %d, want 0", len(list))
	}
	assertExpectations(t, mock)
}

// ---------------------------------------------------------------------------
// UpdateStatus
// ---------------------------------------------------------------------------

func TestInvitationUpdateStatus_Applied(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectExec("UPDATE invitations.*WHERE id = \\$1 AND status = 'pending' AND expires_at > NOW\\(\\)").
		WithArgs("inv-1", models.InvitationStatusAccepted, &now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := NewInvitationRepository().UpdateStatus(context.Background(), db, "inv-1",
		models.InvitationStatusAccepted, TransitionOptions{AcceptedAt: &now, RequireUnexpired: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected transition to apply")
	}
	assertExpectations(t, mock)
}

func TestInvitationUpdateStatus_AlreadyResolved(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectExec("UPDATE invitations.*WHERE id = \\$1 AND status = 'pending'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := NewInvitationRepository().UpdateStatus(context.Background(), db, "inv-1",
		models.InvitationStatusRevoked, TransitionOptions{RevokedAt: &now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected no-op when row is no longer pending")
	}
}

func TestInvitationUpdateStatus_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectExec("UPDATE invitations").WillReturnError(errDB)

	_, err := NewInvitationRepository().UpdateStatus(context.Background(), db, "inv-1",
		models.InvitationStatusRevoked, TransitionOptions{RevokedAt: &now})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestInvitationUpdateStatus_InvalidTransitions(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		status models.InvitationStatus
		opts   TransitionOptions
	}{
		{"back to pending", models.InvitationStatusPending, TransitionOptions{}},
		{"accepted without timestamp", models.InvitationStatusAccepted, TransitionOptions{}},
		{"accepted with revoked_at", models.InvitationStatusAccepted, TransitionOptions{AcceptedAt: &now, RevokedAt: &now}},
		{"revoked without timestamp", models.InvitationStatusRevoked, TransitionOptions{}},
		{"expired with timestamp", models.InvitationStatusExpired, TransitionOptions{AcceptedAt: &now}},
		{"unknown", models.InvitationStatus("archived"), TransitionOptions{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			_, err := NewInvitationRepository().UpdateStatus(context.Background(), db, "inv-1", tt.status, tt.opts)
			if err == nil {
				t.Error("expected validation error")
			}
			assertExpectations(t, mock)
		})
	}
}

// ---------------------------------------------------------------------------
// SetDirectoryInviteID / MarkExpired
// ---------------------------------------------------------------------------

func TestInvitationSetDirectoryInviteID(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE invitations SET directory_invite_id").
		WithArgs("inv-1", "dir-inv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewInvitationRepository().SetDirectoryInviteID(context.Background(), db, "inv-1", "dir-inv-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertExpectations(t, mock)
}

func TestInvitationMarkExpired_Idempotent(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE invitations.*SET status = 'expired'.*expires_at < NOW\\(\\)").
		WithArgs("ws-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("UPDATE invitations.*SET status = 'expired'").
		WithArgs("ws-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewInvitationRepository()
	n, err := repo.MarkExpired(context.Background(), db, "ws-1")
	if err != nil || n != 3 {
		t.Fatalf("first MarkExpired = (%d, %v), want (3, nil)", n, err)
	}
	n, err = repo.MarkExpired(context.Background(), db, "ws-1")
	if err != nil || n != 0 {
		t.Fatalf("second MarkExpired = (%d, %v), want (0, nil)", n, err)
	}
	assertExpectations(t, mock)
}
