package invitations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/huddlehq/huddle/internal/db"
	"github.com/huddlehq/huddle/internal/db/models"
	"github.com/huddlehq/huddle/internal/db/repositories"
	"github.com/huddlehq/huddle/internal/directory"
)

// ---------------------------------------------------------------------------
// fakeDB: shared in-memory state for every fake store.
//
// Writes apply immediately under mu and push an undo closure onto the handle's
// log. Rolling back a transaction or savepoint replays the log in reverse, so
// the fakes reproduce commit/rollback and the conditional-update guards without
// a real database. Handles other than *fakeTx panic if used.
// ---------------------------------------------------------------------------

type fakeTx struct {
	sqlx.ExtContext
	undo []func()
}

type fakeDB struct {
	mu sync.Mutex

	invitations map[string]*models.Invitation
	outbox      []*models.OutboxEvent
	workspaces  map[string]*models.Workspace
	users       map[string]*models.User
	members     map[string]*models.WorkspaceMember // key: workspace/user

	seq     int64
	now     func() time.Time
	commits int
}

func newFakeDB(now func() time.Time) *fakeDB {
	return &fakeDB{
		invitations: make(map[string]*models.Invitation),
		workspaces:  make(map[string]*models.Workspace),
		users:       make(map[string]*models.User),
		members:     make(map[string]*models.WorkspaceMember),
		now:         now,
	}
}

// record must be called with mu held.
func (d *fakeDB) record(q sqlx.ExtContext, undo func()) {
	q.(*fakeTx).undo = append(q.(*fakeTx).undo, undo)
}

func (d *fakeDB) rollback(tx *fakeTx, mark int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(tx.undo) - 1; i >= mark; i-- {
		tx.undo[i]()
	}
	tx.undo = tx.undo[:mark]
}

func memberKey(workspaceID, userID string) string { return workspaceID + "/" + userID }

func copyInvitation(inv *models.Invitation) *models.Invitation {
	c := *inv
	return &c
}

func (d *fakeDB) addWorkspace(id, name string, orgID *string) {
	d.workspaces[id] = &models.Workspace{ID: id, Name: name, DirectoryOrganizationID: orgID}
}

func (d *fakeDB) addUser(id, email string, directoryUserID *string) {
	d.users[id] = &models.User{ID: id, Email: email, DirectoryUserID: directoryUserID}
}

func (d *fakeDB) addMember(workspaceID, userID string) {
	d.members[memberKey(workspaceID, userID)] = &models.WorkspaceMember{WorkspaceID: workspaceID, UserID: userID, Role: models.WorkspaceRoleMember}
}

func (d *fakeDB) addInvitation(inv *models.Invitation) {
	d.invitations[inv.ID] = copyInvitation(inv)
}

func (d *fakeDB) invitation(id string) *models.Invitation {
	d.mu.Lock()
	defer d.mu.Unlock()
	if inv, ok := d.invitations[id]; ok {
		return copyInvitation(inv)
	}
	return nil
}

func (d *fakeDB) memberCount(workspaceID, userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.members[memberKey(workspaceID, userID)]; ok {
		return 1
	}
	return 0
}

func (d *fakeDB) events(eventType string) []*models.OutboxEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*models.OutboxEvent
	for _, e := range d.outbox {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Transactor
// ---------------------------------------------------------------------------

type fakeTransactor struct {
	db *fakeDB
	// failSavepoint makes WithSavepoint report a broken savepoint after fn fails.
	failSavepoint bool
}

func (f *fakeTransactor) Querier() sqlx.ExtContext { return &fakeTx{} }

func (f *fakeTransactor) WithTx(_ context.Context, fn func(tx sqlx.ExtContext) error) error {
	tx := &fakeTx{}
	if err := fn(tx); err != nil {
		f.db.rollback(tx, 0)
		return err
	}
	f.db.mu.Lock()
	f.db.commits++
	f.db.mu.Unlock()
	return nil
}

func (f *fakeTransactor) WithSavepoint(_ context.Context, q sqlx.ExtContext, name string, fn func() error) error {
	tx := q.(*fakeTx)
	f.db.mu.Lock()
	mark := len(tx.undo)
	f.db.mu.Unlock()

	if err := fn(); err != nil {
		if f.failSavepoint {
			return errors.Join(err, fmt.Errorf("%w: rollback to %s", db.ErrSavepoint, name))
		}
		f.db.rollback(tx, mark)
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// InvitationStore
// ---------------------------------------------------------------------------

type fakeInvitations struct{ db *fakeDB }

func (f *fakeInvitations) Insert(_ context.Context, q sqlx.ExtContext, inv *models.Invitation) error {
	d := f.db
	d.mu.Lock()
	defer d.mu.Unlock()
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.Status = models.InvitationStatusPending
	d.seq++
	inv.CreatedAt = d.now().Add(time.Duration(d.seq) * time.Microsecond)
	d.invitations[inv.ID] = copyInvitation(inv)
	id := inv.ID
	d.record(q, func() { delete(d.invitations, id) })
	return nil
}

func (f *fakeInvitations) find(match func(*models.Invitation) bool) []*models.Invitation {
	d := f.db
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*models.Invitation, 0)
	for _, inv := range d.invitations {
		if match(inv) {
			out = append(out, copyInvitation(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (f *fakeInvitations) livePending(inv *models.Invitation) bool {
	return inv.Status == models.InvitationStatusPending && inv.ExpiresAt.After(f.db.now())
}

func (f *fakeInvitations) FindByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.Invitation, error) {
	return f.db.invitation(id), nil
}

func (f *fakeInvitations) FindByDirectoryInviteID(_ context.Context, _ sqlx.ExtContext, directoryInviteID string) (*models.Invitation, error) {
	list := f.find(func(inv *models.Invitation) bool {
		return inv.DirectoryInviteID != nil && *inv.DirectoryInviteID == directoryInviteID
	})
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (f *fakeInvitations) ListByWorkspace(_ context.Context, _ sqlx.ExtContext, workspaceID string, filter repositories.InvitationFilter) ([]*models.Invitation, error) {
	list := f.find(func(inv *models.Invitation) bool {
		return inv.WorkspaceID == workspaceID && (filter.Status == nil || inv.Status == *filter.Status)
	})
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

func (f *fakeInvitations) FindPendingByEmail(_ context.Context, _ sqlx.ExtContext, email string) ([]*models.Invitation, error) {
	return f.find(func(inv *models.Invitation) bool {
		return inv.Email == email && f.livePending(inv)
	}), nil
}

func (f *fakeInvitations) FindPendingByEmailAndWorkspace(_ context.Context, _ sqlx.ExtContext, email, workspaceID string) (*models.Invitation, error) {
	list := f.find(func(inv *models.Invitation) bool {
		return inv.Email == email && inv.WorkspaceID == workspaceID && f.livePending(inv)
	})
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func (f *fakeInvitations) FindPendingByEmailsAndWorkspace(_ context.Context, _ sqlx.ExtContext, emails []string, workspaceID string) ([]*models.Invitation, error) {
	want := make(map[string]bool, len(emails))
	for _, e := range emails {
		want[e] = true
	}
	return f.find(func(inv *models.Invitation) bool {
		return want[inv.Email] && inv.WorkspaceID == workspaceID && f.livePending(inv)
	}), nil
}

func (f *fakeInvitations) UpdateStatus(_ context.Context, q sqlx.ExtContext, id string, status models.InvitationStatus, opts repositories.TransitionOptions) (bool, error) {
	d := f.db
	d.mu.Lock()
	defer d.mu.Unlock()
	inv, ok := d.invitations[id]
	if !ok || inv.Status != models.InvitationStatusPending {
		return false, nil
	}
	if opts.RequireUnexpired && !inv.ExpiresAt.After(d.now()) {
		return false, nil
	}
	prev := copyInvitation(inv)
	inv.Status = status
	inv.AcceptedAt = opts.AcceptedAt
	inv.RevokedAt = opts.RevokedAt
	d.record(q, func() { d.invitations[id] = prev })
	return true, nil
}

func (f *fakeInvitations) SetDirectoryInviteID(_ context.Context, q sqlx.ExtContext, id, directoryInviteID string) error {
	d := f.db
	d.mu.Lock()
	defer d.mu.Unlock()
	inv, ok := d.invitations[id]
	if !ok {
		return nil
	}
	prev := inv.DirectoryInviteID
	v := directoryInviteID
	inv.DirectoryInviteID = &v
	d.record(q, func() { d.invitations[id].DirectoryInviteID = prev })
	return nil
}

func (f *fakeInvitations) MarkExpired(_ context.Context, q sqlx.ExtContext, workspaceID string) (int64, error) {
	d := f.db
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for id, inv := range d.invitations {
		if inv.WorkspaceID == workspaceID && inv.Status == models.InvitationStatusPending && inv.ExpiresAt.Before(d.now()) {
			prev := copyInvitation(inv)
			inv.Status = models.InvitationStatusExpired
			d.record(q, func() { d.invitations[id] = prev })
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// OutboxStore
// ---------------------------------------------------------------------------

type fakeOutbox struct {
	db *fakeDB
	// failOn makes Insert fail for this event type.
	failOn string
}

func (f *fakeOutbox) Insert(_ context.Context, tx sqlx.ExtContext, eventType string, payload interface{}) (*models.OutboxEvent, error) {
	if eventType == f.failOn {
		return nil, errors.New("outbox unavailable")
	}
	d := f.db
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	event := &models.OutboxEvent{ID: d.seq, EventType: eventType, CreatedAt: d.now()}
	switch p := payload.(type) {
	case models.InvitationSentPayload:
		event.Payload = []byte(fmt.Sprintf(`{"invitationId":%q}`, p.InvitationID))
	case models.InvitationAcceptedPayload:
		event.Payload = []byte(fmt.Sprintf(`{"invitationId":%q,"userId":%q}`, p.InvitationID, p.UserID))
	}
	d.outbox = append(d.outbox, event)
	n := len(d.outbox)
	d.record(tx, func() { d.outbox = d.outbox[:n-1] })
	return event, nil
}

// ---------------------------------------------------------------------------
// WorkspaceStore
// ---------------------------------------------------------------------------

type fakeWorkspaces struct {
	db *fakeDB
	// beforeLink runs just before the conditional link, to simulate a concurrent winner.
	beforeLink func()
}

func (f *fakeWorkspaces) GetByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.Workspace, error) {
	d := f.db
	d.mu.Lock()
	defer d.mu.Unlock()
	ws, ok := d.workspaces[id]
	if !ok {
		return nil, nil
	}
	c := *ws
	return &c, nil
}

func (f *fakeWorkspaces) SetDirectoryOrganizationIDIfUnset(_ context.Context, q sqlx.ExtContext, id, orgID string) (bool, error) {
	if f.beforeLink != nil {
		f.beforeLink()
	}
	d := f.db
	d.mu.Lock()
	defer d.mu.Unlock()
	ws, ok := d.workspaces[id]
	if !ok || ws.DirectoryOrganizationID != nil {
		return false, nil
	}
	v := orgID
	ws.DirectoryOrganizationID = &v
	d.record(q, func() { d.workspaces[id].DirectoryOrganizationID = nil })
	return true, nil
}

// ---------------------------------------------------------------------------
// UserStore
// ---------------------------------------------------------------------------

type fakeUsers struct{ db *fakeDB }

func (f *fakeUsers) GetByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.User, error) {
	d := f.db
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) FindByEmails(_ context.Context, _ sqlx.ExtContext, emails []string) ([]*models.User, error) {
	d := f.db
	d.mu.Lock()
	defer d.mu.Unlock()
	want := make(map[string]bool, len(emails))
	for _, e := range emails {
		want[e] = true
	}
	out := make([]*models.User, 0)
	for _, u := range d.users {
		if want[strings.ToLower(u.Email)] {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// MemberStore + MembershipCollaborator
// ---------------------------------------------------------------------------

type fakeMembers struct {
	db *fakeDB
	// failFor makes CreateMemberInTransaction fail for these workspaces, after writing the row.
	failFor map[string]error
	// beforeCreate runs just before the insert, to simulate a concurrent membership.
	beforeCreate func()
}

func (f *fakeMembers) IsMember(_ context.Context, _ sqlx.ExtContext, workspaceID, userID string) (bool, error) {
	return f.db.memberCount(workspaceID, userID) == 1, nil
}

func (f *fakeMembers) ListMemberUserIDs(_ context.Context, _ sqlx.ExtContext, workspaceID string, userIDs []string) ([]string, error) {
	out := make([]string, 0)
	for _, id := range userIDs {
		if f.db.memberCount(workspaceID, id) == 1 {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeMembers) CreateMemberInTransaction(_ context.Context, tx sqlx.ExtContext, params repositories.CreateMemberParams) (*models.WorkspaceMember, error) {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	d := f.db
	d.mu.Lock()
	defer d.mu.Unlock()
	key := memberKey(params.WorkspaceID, params.UserID)
	if _, exists := d.members[key]; exists {
		return nil, nil
	}
	m := &models.WorkspaceMember{WorkspaceID: params.WorkspaceID, UserID: params.UserID, Role: params.Role, CreatedAt: d.now()}
	d.members[key] = m
	d.record(tx, func() { delete(d.members, key) })

	if err := f.failFor[params.WorkspaceID]; err != nil {
		return nil, err
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Directory adapter
// ---------------------------------------------------------------------------

type fakeDirectory struct {
	mu sync.Mutex

	orgs        map[string]*directory.Organization // key: external key
	createCalls int
	getCalls    int
	sent        []directory.SendInvitationInput
	revoked     []string

	sendErr   map[string]error // key: email
	revokeErr error
	getErr    error

	// gate holds the first holdGets lookups until all of them have arrived.
	holdGets int
	gate     sync.WaitGroup
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{orgs: make(map[string]*directory.Organization)}
}

func (f *fakeDirectory) CreateOrganization(_ context.Context, in directory.CreateOrganizationInput) (*directory.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if _, exists := f.orgs[in.ExternalKey]; exists {
		return nil, &directory.Error{Operation: "create_organization", StatusCode: 409, Code: directory.CodeExternalKeyAlreadyUsed}
	}
	org := &directory.Organization{ID: fmt.Sprintf("org_%d", len(f.orgs)+1), Name: in.Name, ExternalKey: in.ExternalKey}
	f.orgs[in.ExternalKey] = org
	return org, nil
}

func (f *fakeDirectory) GetOrganizationByExternalKey(_ context.Context, key string) (*directory.Organization, error) {
	f.mu.Lock()
	f.getCalls++
	n := f.getCalls
	f.mu.Unlock()

	if n <= f.holdGets {
		f.gate.Done()
		f.gate.Wait()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	org, ok := f.orgs[key]
	if !ok {
		return nil, nil
	}
	c := *org
	return &c, nil
}

func (f *fakeDirectory) SendInvitation(_ context.Context, in directory.SendInvitationInput) (*directory.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	if err := f.sendErr[in.Email]; err != nil {
		return nil, err
	}
	return &directory.Invite{ID: "dinv_" + in.Email, Email: in.Email, State: "pending"}, nil
}

func (f *fakeDirectory) RevokeInvitation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, id)
	return f.revokeErr
}

func (f *fakeDirectory) sentEmails() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, in := range f.sent {
		out = append(out, in.Email)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

var testNow = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	db          *fakeDB
	tx          *fakeTransactor
	invitations *fakeInvitations
	outbox      *fakeOutbox
	workspaces  *fakeWorkspaces
	members     *fakeMembers
	directory   *fakeDirectory
	svc         *Service
}

// newHarness builds a service over fresh fakes. Pass withDirectory=false to run without a
// directory provider.
func newHarness(withDirectory bool) *harness {
	now := func() time.Time { return testNow }
	fdb := newFakeDB(now)
	h := &harness{
		db:          fdb,
		tx:          &fakeTransactor{db: fdb},
		invitations: &fakeInvitations{db: fdb},
		outbox:      &fakeOutbox{db: fdb},
		workspaces:  &fakeWorkspaces{db: fdb},
		members:     &fakeMembers{db: fdb},
	}

	deps := Deps{
		Tx:          h.tx,
		Invitations: h.invitations,
		Outbox:      h.outbox,
		Workspaces:  h.workspaces,
		Users:       &fakeUsers{db: fdb},
		Members:     h.members,
		Membership:  h.members,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if withDirectory {
		h.directory = newFakeDirectory()
		deps.Directory = h.directory
	}

	h.svc = NewService(deps, Config{TTL: 7 * 24 * time.Hour, SendConcurrency: 4})
	h.svc.now = now

	adminDirID := "user_dir_admin"
	fdb.addWorkspace("ws-1", "Acme", nil)
	fdb.addWorkspace("ws-2", "Globex", nil)
	fdb.addUser("admin", "admin@x.com", &adminDirID)
	return h
}

func (h *harness) pendingInvitation(id, workspaceID, email string) *models.Invitation {
	inv := &models.Invitation{
		ID:          id,
		WorkspaceID: workspaceID,
		Email:       email,
		Role:        models.WorkspaceRoleMember,
		Status:      models.InvitationStatusPending,
		InvitedBy:   "admin",
		CreatedAt:   testNow.Add(-time.Hour),
		ExpiresAt:   testNow.Add(24 * time.Hour),
	}
	h.db.mu.Lock()
	h.db.addInvitation(inv)
	h.db.mu.Unlock()
	return inv
}

func strPtr(s string) *string { return &s }
