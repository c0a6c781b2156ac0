package services

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/google/uuid"
)

func TestAccessService_Decide(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.createUser(t, "owner", true)
	member := env.createUser(t, "member", true)
	viewer := env.createUser(t, "viewer", true)
	outsider := env.createUser(t, "outsider", true)
	unverifiedAdmin := env.createUser(t, "unverified", false)

	public := env.createGroup(t, owner, "public", false, "")
	private := env.createGroup(t, owner, "private", true, "1234")
	privateNoCode := env.createGroup(t, owner, "private-open", true, "")

	env.addMember(t, public, member, models.GroupMembership{})
	env.addMember(t, public, viewer, models.GroupMembership{CanView: true})
	env.addMember(t, private, member, models.GroupMembership{CanAdd: true, CanView: true, CanEdit: true, CanDelete: true})
	env.addMember(t, privateNoCode, member, models.GroupMembership{CanView: true})
	env.addMember(t, public, unverifiedAdmin, models.GroupMembership{Role: models.GroupRoleAdmin})

	publicFile := env.createFile(t, public, "report.pdf", 10, models.FileStatusReady)
	lockedFile := env.createFile(t, public, "locked.pdf", 10, models.FileStatusGenerate)
	privateFile := env.createFile(t, private, "secret.pdf", 10, models.FileStatusReady)

	tests := []struct {
		name string
		req  Request
		want Verdict
	}{
		{"anonymous is rejected", Request{Actor: Anonymous(), Action: ActionViewGroup, GroupID: public.ID}, Deny(ReasonUnauthenticated)},
		{"any user views public file", Request{Actor: outsider, Action: ActionViewFile, FileID: publicFile.ID}, Allow()},
		{"any user views public group", Request{Actor: outsider, Action: ActionViewGroup, GroupID: public.ID}, Allow()},
		{"non-member cannot view private file", Request{Actor: outsider, Action: ActionViewFile, FileID: privateFile.ID, Passcode: "1234"}, Deny(ReasonNotMember)},
		{"member views private file with passcode", Request{Actor: member, Action: ActionViewFile, FileID: privateFile.ID, Passcode: "1234"}, Allow()},
		{"member with wrong passcode", Request{Actor: member, Action: ActionViewFile, FileID: privateFile.ID, Passcode: "0000"}, Deny(ReasonPrivacyChallengeFailed)},
		{"member without passcode", Request{Actor: member, Action: ActionViewGroup, GroupID: private.ID}, Deny(ReasonPrivacyChallengeFailed)},
		{"private group without stored passcode accepts any", Request{Actor: member, Action: ActionViewGroup, GroupID: privateNoCode.ID, Passcode: "anything"}, Allow()},
		{"missing file is not found", Request{Actor: member, Action: ActionViewFile, FileID: uuid.New()}, NotFound(ReasonFileNotFound)},
		{"missing group is not found", Request{Actor: member, Action: ActionAddFile, GroupID: uuid.New()}, NotFound(ReasonGroupNotFound)},

		{"admin adds without can_add flag", Request{Actor: unverifiedAdmin, Action: ActionAddFile, GroupID: public.ID}, Allow()},
		{"plain member cannot add", Request{Actor: member, Action: ActionAddFile, GroupID: public.ID}, Deny(ReasonInsufficientCapability)},
		{"non-member cannot add", Request{Actor: outsider, Action: ActionAddFile, GroupID: public.ID}, Deny(ReasonNotMember)},
		{"private add needs passcode", Request{Actor: member, Action: ActionAddFile, GroupID: private.ID}, Deny(ReasonPrivacyChallengeFailed)},
		{"private add with passcode", Request{Actor: member, Action: ActionAddFile, GroupID: private.ID, Passcode: "1234"}, Allow()},

		{"unfiltered list allowed", Request{Actor: outsider, Action: ActionListFiles}, Allow()},
		{"filtered list needs can_view", Request{Actor: member, Action: ActionListFiles, GroupID: public.ID}, Deny(ReasonInsufficientCapability)},
		{"filtered list with can_view", Request{Actor: viewer, Action: ActionListFiles, GroupID: public.ID}, Allow()},
		{"filtered list by non-member", Request{Actor: outsider, Action: ActionListFiles, GroupID: public.ID}, Deny(ReasonNotMember)},

		{"edit needs can_edit", Request{Actor: member, Action: ActionEditFile, FileID: publicFile.ID}, Deny(ReasonInsufficientCapability)},
		{"owner edits", Request{Actor: owner, Action: ActionEditFile, FileID: publicFile.ID}, Allow()},
		{"locked file refuses admin edit", Request{Actor: owner, Action: ActionEditFile, FileID: lockedFile.ID}, Deny(ReasonResourceLocked)},
		{"locked file refuses admin delete", Request{Actor: owner, Action: ActionDeleteFile, FileID: lockedFile.ID}, Deny(ReasonResourceLocked)},
		{"locked file refuses regenerate", Request{Actor: owner, Action: ActionRegenerateFile, FileID: lockedFile.ID}, Deny(ReasonResourceLocked)},
		{"lock checked before membership", Request{Actor: outsider, Action: ActionDeleteFile, FileID: lockedFile.ID}, Deny(ReasonResourceLocked)},
		{"delete needs can_delete", Request{Actor: member, Action: ActionDeleteFile, FileID: publicFile.ID}, Deny(ReasonInsufficientCapability)},
		{"private delete needs passcode", Request{Actor: member, Action: ActionDeleteFile, FileID: privateFile.ID}, Deny(ReasonPrivacyChallengeFailed)},

		{"mass delete needs can_delete", Request{Actor: member, Action: ActionMassDeleteFiles, GroupID: public.ID}, Deny(ReasonInsufficientCapability)},
		{"mass delete by owner", Request{Actor: owner, Action: ActionMassDeleteFiles, GroupID: public.ID}, Allow()},
		{"private mass delete without passcode", Request{Actor: owner, Action: ActionMassDeleteFiles, GroupID: private.ID}, Deny(ReasonPrivacyChallengeFailed)},

		{"admin action by plain member", Request{Actor: member, Action: ActionEditGroup, GroupID: public.ID}, Deny(ReasonInsufficientCapability)},
		{"admin action by unverified admin", Request{Actor: unverifiedAdmin, Action: ActionEditGroup, GroupID: public.ID}, Deny(ReasonNotVerified)},
		{"admin action by owner", Request{Actor: owner, Action: ActionDeleteGroup, GroupID: public.ID}, Allow()},
		{"private admin action needs passcode", Request{Actor: owner, Action: ActionAddMember, GroupID: private.ID}, Deny(ReasonPrivacyChallengeFailed)},
		{"remove unknown member", Request{Actor: owner, Action: ActionRemoveMember, GroupID: public.ID, TargetUserID: outsider.ID}, NotFound(ReasonMemberNotFound)},
		{"remove other admin rejected", Request{Actor: owner, Action: ActionRemoveMember, GroupID: public.ID, TargetUserID: unverifiedAdmin.ID}, Deny(ReasonProtectedAdmin)},
		{"edit other admin rejected", Request{Actor: owner, Action: ActionEditMember, GroupID: public.ID, TargetUserID: unverifiedAdmin.ID}, Deny(ReasonProtectedAdmin)},
		{"edit plain member", Request{Actor: owner, Action: ActionEditMember, GroupID: public.ID, TargetUserID: member.ID}, Allow()},
		{"remove plain member", Request{Actor: owner, Action: ActionRemoveMember, GroupID: public.ID, TargetUserID: member.ID}, Allow()},
		{"admin removes self", Request{Actor: owner, Action: ActionRemoveMember, GroupID: public.ID, TargetUserID: owner.ID}, Allow()},

		{"unknown action", Request{Actor: owner, Action: Action("file.share"), GroupID: public.ID}, Deny(ReasonUnsupportedAction)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := env.access.Decide(ctx, tt.req); got != tt.want {
				t.Errorf("Decide() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAccessService_PublicGroupsAreWorldReadable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.createUser(t, "owner", true)
	group := env.createGroup(t, owner, "public", false, "")
	file := env.createFile(t, group, "a.txt", 1, models.FileStatusReady)

	for _, name := range []string{"u1", "u2", "u3"} {
		u := env.createUser(t, name, false)
		if v := env.access.Decide(ctx, Request{Actor: u, Action: ActionViewFile, FileID: file.ID}); !v.Allowed() {
			t.Errorf("%s: expected allow on public file, got %s", name, v)
		}
	}
}

func TestAccessService_PrivateGroupDeniesNonMembers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.createUser(t, "owner", true)
	stranger := env.createUser(t, "stranger", true)
	group := env.createGroup(t, owner, "vault", true, "1234")
	file := env.createFile(t, group, "a.txt", 1, models.FileStatusReady)

	requests := []Request{
		{Actor: stranger, Action: ActionViewFile, FileID: file.ID, Passcode: "1234"},
		{Actor: stranger, Action: ActionListFiles, GroupID: group.ID, Passcode: "1234"},
		{Actor: stranger, Action: ActionAddFile, GroupID: group.ID, Passcode: "1234"},
		{Actor: stranger, Action: ActionDeleteFile, FileID: file.ID, Passcode: "1234"},
		{Actor: stranger, Action: ActionMassDeleteFiles, GroupID: group.ID, Passcode: "1234"},
	}
	for _, req := range requests {
		v := env.access.Decide(ctx, req)
		if v.Outcome != OutcomeDeny || (v.Reason != ReasonNotMember && v.Reason != ReasonInsufficientCapability) {
			t.Errorf("%s: expected NotMember or InsufficientCapability, got %s", req.Action, v)
		}
	}
}

func TestAccessService_CapabilityGrantScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createUser(t, "alice", true)
	b := env.createUser(t, "bob", true)
	group := env.createGroup(t, a, "team", false, "")

	creator, err := env.memberships.GetMembership(ctx, a.ID, group.ID)
	if err != nil {
		t.Fatalf("creator membership: %v", err)
	}
	if !creator.IsAdmin() || !creator.CanAdd || !creator.CanDelete {
		t.Fatalf("expected creator admin with add/delete, got %+v", creator)
	}

	if _, err := env.groups.AddMember(ctx, a, group.ID, "", AddMemberInput{UserID: b.ID}); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	file := env.createFile(t, group, "plan.docx", 5, models.FileStatusReady)

	err = env.files.Delete(ctx, b, file.ID, "")
	if reason := denialReason(t, err); reason != ReasonInsufficientCapability {
		t.Fatalf("expected InsufficientCapability, got %s", reason)
	}

	canDelete := true
	if _, err := env.groups.UpdateMember(ctx, a, group.ID, b.ID, "", MembershipUpdate{CanDelete: &canDelete}); err != nil {
		t.Fatalf("UpdateMember() error = %v", err)
	}
	if err := env.files.Delete(ctx, b, file.ID, ""); err != nil {
		t.Fatalf("expected delete to succeed after grant, got %v", err)
	}
}

func TestAccessService_PasscodeDoesNotConferMembership(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner", true)
	c := env.createUser(t, "carol", true)
	group := env.createGroup(t, owner, "vault", true, "1234")

	v := env.access.Decide(context.Background(), Request{Actor: c, Action: ActionViewGroup, GroupID: group.ID, Passcode: "1234"})
	if v != Deny(ReasonNotMember) {
		t.Errorf("expected Deny(NotMember), got %s", v)
	}
}

type failingStore struct{}

func (failingStore) GetMembership(context.Context, uuid.UUID, uuid.UUID) (*models.GroupMembership, error) {
	return nil, errors.New("connection reset")
}

func TestAccessService_LookupFailureDenies(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner", true)
	group := env.createGroup(t, owner, "g", false, "")

	access := NewAccessService(failingStore{}, env.registry, env.vault, env.gate)
	v := access.Decide(context.Background(), Request{Actor: owner, Action: ActionAddFile, GroupID: group.ID})
	if v != Deny(ReasonLookupFailed) {
		t.Errorf("expected Deny(LookupFailed), got %s", v)
	}
}

func TestAccessService_ViewMembershipUsesRegistry(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner", true)
	group := env.createGroup(t, owner, "g", true, "1234")
	file := env.createFile(t, group, "a.txt", 1, models.FileStatusReady)

	registry := NewGroupRegistry(env.db, failingStore{})
	access := NewAccessService(env.memberships, registry, env.vault, env.gate)

	for _, req := range []Request{
		{Actor: owner, Action: ActionViewFile, FileID: file.ID, Passcode: "1234"},
		{Actor: owner, Action: ActionViewGroup, GroupID: group.ID, Passcode: "1234"},
	} {
		if v := access.Decide(context.Background(), req); v != Deny(ReasonNotMember) {
			t.Errorf("%s: expected Deny(NotMember) when membership cannot be read, got %s", req.Action, v)
		}
	}
}

func TestVerdict_Err(t *testing.T) {
	if err := Allow().Err(); err != nil {
		t.Errorf("Allow().Err() = %v, want nil", err)
	}
	if err := NotFound(ReasonFileNotFound).Err(); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
	if err := NotFound(ReasonGroupNotFound).Err(); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}
	if err := NotFound(ReasonMemberNotFound).Err(); !errors.Is(err, ErrMembershipNotFound) {
		t.Errorf("expected ErrMembershipNotFound, got %v", err)
	}

	var denied *DeniedError
	if err := Deny(ReasonResourceLocked).Err(); !errors.As(err, &denied) || denied.Verdict.Reason != ReasonResourceLocked {
		t.Errorf("expected DeniedError(resource_locked), got %v", err)
	}
	if got := Deny(ReasonNotMember).String(); got != "deny(not_member)" {
		t.Errorf("String() = %q", got)
	}
}
