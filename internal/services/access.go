package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/google/uuid"
)

// Principal is the caller identity an access decision is made for.
type Principal struct {
	ID              uuid.UUID
	IsAuthenticated bool
	IsVerified      bool
}

func Anonymous() Principal {
	return Principal{}
}

type Action string

const (
	ActionCreateGroup     Action = "group.create"
	ActionViewGroup       Action = "group.view"
	ActionEditGroup       Action = "group.edit"
	ActionDeleteGroup     Action = "group.delete"
	ActionAddMember       Action = "group.member_add"
	ActionEditMember      Action = "group.member_edit"
	ActionRemoveMember    Action = "group.member_remove"
	ActionAddFile         Action = "file.add"
	ActionViewFile        Action = "file.view"
	ActionListFiles       Action = "file.list"
	ActionEditFile        Action = "file.edit"
	ActionDeleteFile      Action = "file.delete"
	ActionRegenerateFile  Action = "file.regenerate"
	ActionMassDeleteFiles Action = "file.mass_delete"
)

func (a Action) groupAdmin() bool {
	switch a {
	case ActionEditGroup, ActionDeleteGroup, ActionAddMember, ActionEditMember, ActionRemoveMember:
		return true
	}
	return false
}

// Request describes one attempted action. GroupID scopes group-level actions
// and filtered listings; FileID scopes per-file actions, whose group is
// derived from the file itself.
type Request struct {
	Actor        Principal
	Action       Action
	GroupID      uuid.UUID
	FileID       uuid.UUID
	TargetUserID uuid.UUID
	Passcode     string
}

type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeDeny
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeDeny:
		return "deny"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

type Reason int

const (
	ReasonNone Reason = iota
	ReasonUnauthenticated
	ReasonNotVerified
	ReasonNotMember
	ReasonInsufficientCapability
	ReasonPrivacyChallengeFailed
	ReasonResourceLocked
	ReasonProtectedAdmin
	ReasonUnsupportedAction
	ReasonLookupFailed
	ReasonGroupNotFound
	ReasonFileNotFound
	ReasonMemberNotFound
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUnauthenticated:
		return "unauthenticated"
	case ReasonNotVerified:
		return "not_verified"
	case ReasonNotMember:
		return "not_member"
	case ReasonInsufficientCapability:
		return "insufficient_capability"
	case ReasonPrivacyChallengeFailed:
		return "privacy_challenge_failed"
	case ReasonResourceLocked:
		return "resource_locked"
	case ReasonProtectedAdmin:
		return "protected_admin"
	case ReasonUnsupportedAction:
		return "unsupported_action"
	case ReasonLookupFailed:
		return "lookup_failed"
	case ReasonGroupNotFound:
		return "group_not_found"
	case ReasonFileNotFound:
		return "file_not_found"
	case ReasonMemberNotFound:
		return "member_not_found"
	default:
		return "unknown"
	}
}

type Verdict struct {
	Outcome Outcome
	Reason  Reason
}

func Allow() Verdict {
	return Verdict{Outcome: OutcomeAllow}
}

func Deny(reason Reason) Verdict {
	return Verdict{Outcome: OutcomeDeny, Reason: reason}
}

func NotFound(reason Reason) Verdict {
	return Verdict{Outcome: OutcomeNotFound, Reason: reason}
}

func (v Verdict) Allowed() bool {
	return v.Outcome == OutcomeAllow
}

func (v Verdict) String() string {
	if v.Outcome == OutcomeAllow {
		return "allow"
	}
	return fmt.Sprintf("%s(%s)", v.Outcome, v.Reason)
}

// Err converts a non-Allow verdict into an error callers can match with
// errors.Is or errors.As. It returns nil for Allow.
func (v Verdict) Err() error {
	switch v.Outcome {
	case OutcomeAllow:
		return nil
	case OutcomeNotFound:
		switch v.Reason {
		case ReasonFileNotFound:
			return ErrFileNotFound
		case ReasonMemberNotFound:
			return ErrMembershipNotFound
		default:
			return ErrGroupNotFound
		}
	default:
		return &DeniedError{Verdict: v}
	}
}

// CapabilityStore returns the membership of a user in a group, or
// ErrMembershipNotFound.
type CapabilityStore interface {
	GetMembership(ctx context.Context, userID, groupID uuid.UUID) (*models.GroupMembership, error)
}

// GroupResolver resolves groups and answers plain membership questions.
// IsMember never fails; a lookup error counts as not a member.
type GroupResolver interface {
	Resolve(ctx context.Context, groupID uuid.UUID) (*models.Group, error)
	IsMember(ctx context.Context, groupID uuid.UUID, actor Principal) bool
}

type PasscodeVerifier interface {
	Verify(ctx context.Context, group *models.Group, candidate string) bool
}

type FileLookup interface {
	Lookup(ctx context.Context, fileID uuid.UUID) (*models.File, error)
}

// AccessService evaluates access requests against group memberships,
// group privacy and file lifecycle state. It reads but never writes.
type AccessService struct {
	Memberships CapabilityStore
	Groups      GroupResolver
	Passcodes   PasscodeVerifier
	Files       FileLookup
}

func NewAccessService(memberships CapabilityStore, groups GroupResolver, passcodes PasscodeVerifier, files FileLookup) *AccessService {
	return &AccessService{
		Memberships: memberships,
		Groups:      groups,
		Passcodes:   passcodes,
		Files:       files,
	}
}

func (a *AccessService) Decide(ctx context.Context, req Request) Verdict {
	v := a.decide(ctx, req)
	if !v.Allowed() {
		details := map[string]interface{}{
			"action":  string(req.Action),
			"verdict": v.String(),
		}
		if req.GroupID != uuid.Nil {
			details["group_id"] = req.GroupID.String()
		}
		if req.FileID != uuid.Nil {
			details["file_id"] = req.FileID.String()
		}
		if req.Actor.IsAuthenticated {
			logger.WarnWithUser(req.Actor.ID.String(), "access_denied", details)
		} else {
			logger.Warn("access_denied", details)
		}
	}
	return v
}

// Authorize is Decide for error-returning flows.
func (a *AccessService) Authorize(ctx context.Context, req Request) error {
	return a.Decide(ctx, req).Err()
}

func (a *AccessService) decide(ctx context.Context, req Request) Verdict {
	if !req.Actor.IsAuthenticated {
		return Deny(ReasonUnauthenticated)
	}

	switch req.Action {
	case ActionCreateGroup:
		return Allow()
	case ActionAddFile:
		return a.decideAddFile(ctx, req)
	case ActionViewFile:
		return a.decideViewFile(ctx, req)
	case ActionListFiles:
		return a.decideListFiles(ctx, req)
	case ActionEditFile:
		return a.decideFileMutation(ctx, req, models.CapabilityEdit)
	case ActionRegenerateFile:
		return a.decideFileMutation(ctx, req, models.CapabilityEdit)
	case ActionDeleteFile:
		return a.decideFileMutation(ctx, req, models.CapabilityDelete)
	case ActionMassDeleteFiles:
		return a.decideMassDelete(ctx, req)
	case ActionViewGroup:
		return a.decideViewGroup(ctx, req)
	}

	if req.Action.groupAdmin() {
		return a.decideGroupAdmin(ctx, req)
	}
	return Deny(ReasonUnsupportedAction)
}

func (a *AccessService) decideAddFile(ctx context.Context, req Request) Verdict {
	group, v := a.resolveGroup(ctx, req.GroupID)
	if group == nil {
		return v
	}
	m, v := a.membership(ctx, req.Actor, group.ID)
	if m == nil {
		return v
	}
	if !m.CanAdd && !m.IsAdmin() {
		return Deny(ReasonInsufficientCapability)
	}
	return a.privacyChallenge(ctx, group, req.Passcode)
}

// decideViewFile lets any authenticated principal read files of public
// groups. Private groups need membership and the passcode.
func (a *AccessService) decideViewFile(ctx context.Context, req Request) Verdict {
	file, v := a.lookupFile(ctx, req.FileID)
	if file == nil {
		return v
	}
	group, v := a.resolveGroup(ctx, file.GroupID)
	if group == nil {
		return v
	}
	if !group.IsPrivate {
		return Allow()
	}
	if !a.Groups.IsMember(ctx, group.ID, req.Actor) {
		return Deny(ReasonNotMember)
	}
	return a.privacyChallenge(ctx, group, req.Passcode)
}

// decideListFiles allows unfiltered listings outright; the caller scopes
// them to the actor's groups. A group filter needs the view capability.
func (a *AccessService) decideListFiles(ctx context.Context, req Request) Verdict {
	if req.GroupID == uuid.Nil {
		return Allow()
	}
	group, v := a.resolveGroup(ctx, req.GroupID)
	if group == nil {
		return v
	}
	m, v := a.membership(ctx, req.Actor, group.ID)
	if m == nil {
		return v
	}
	if !m.CanView {
		return Deny(ReasonInsufficientCapability)
	}
	return a.privacyChallenge(ctx, group, req.Passcode)
}

// decideFileMutation checks the lifecycle lock before anything else. A file
// in generate state refuses edits and deletes even from group admins.
func (a *AccessService) decideFileMutation(ctx context.Context, req Request, capability models.Capability) Verdict {
	file, v := a.lookupFile(ctx, req.FileID)
	if file == nil {
		return v
	}
	if file.IsLocked() {
		return Deny(ReasonResourceLocked)
	}
	group, v := a.resolveGroup(ctx, file.GroupID)
	if group == nil {
		return v
	}
	m, v := a.membership(ctx, req.Actor, group.ID)
	if m == nil {
		return v
	}
	if !m.Has(capability) {
		return Deny(ReasonInsufficientCapability)
	}
	return a.privacyChallenge(ctx, group, req.Passcode)
}

func (a *AccessService) decideMassDelete(ctx context.Context, req Request) Verdict {
	group, v := a.resolveGroup(ctx, req.GroupID)
	if group == nil {
		return v
	}
	m, v := a.membership(ctx, req.Actor, group.ID)
	if m == nil {
		return v
	}
	if !m.CanDelete {
		return Deny(ReasonInsufficientCapability)
	}
	return a.privacyChallenge(ctx, group, req.Passcode)
}

func (a *AccessService) decideViewGroup(ctx context.Context, req Request) Verdict {
	group, v := a.resolveGroup(ctx, req.GroupID)
	if group == nil {
		return v
	}
	if !group.IsPrivate {
		return Allow()
	}
	if !a.Groups.IsMember(ctx, group.ID, req.Actor) {
		return Deny(ReasonNotMember)
	}
	return a.privacyChallenge(ctx, group, req.Passcode)
}

func (a *AccessService) decideGroupAdmin(ctx context.Context, req Request) Verdict {
	if !req.Actor.IsVerified {
		return Deny(ReasonNotVerified)
	}
	group, v := a.resolveGroup(ctx, req.GroupID)
	if group == nil {
		return v
	}
	m, v := a.membership(ctx, req.Actor, group.ID)
	if m == nil {
		return v
	}
	if !m.IsAdmin() {
		return Deny(ReasonInsufficientCapability)
	}
	if v := a.privacyChallenge(ctx, group, req.Passcode); !v.Allowed() {
		return v
	}

	if req.Action == ActionRemoveMember || req.Action == ActionEditMember {
		target, err := a.Memberships.GetMembership(ctx, req.TargetUserID, group.ID)
		if errors.Is(err, ErrMembershipNotFound) {
			return NotFound(ReasonMemberNotFound)
		}
		if err != nil {
			return a.lookupFailed("membership", err)
		}
		// Only the admin themselves may edit or remove an admin membership.
		if target.IsAdmin() && target.UserID != req.Actor.ID {
			return Deny(ReasonProtectedAdmin)
		}
	}
	return Allow()
}

// privacyChallenge is called once membership is established. Public groups
// pass; private groups need a passcode the vault accepts.
func (a *AccessService) privacyChallenge(ctx context.Context, group *models.Group, passcode string) Verdict {
	if !group.IsPrivate {
		return Allow()
	}
	if passcode == "" || !a.Passcodes.Verify(ctx, group, passcode) {
		return Deny(ReasonPrivacyChallengeFailed)
	}
	return Allow()
}

func (a *AccessService) resolveGroup(ctx context.Context, groupID uuid.UUID) (*models.Group, Verdict) {
	group, err := a.Groups.Resolve(ctx, groupID)
	if errors.Is(err, ErrGroupNotFound) {
		return nil, NotFound(ReasonGroupNotFound)
	}
	if err != nil {
		return nil, a.lookupFailed("group", err)
	}
	return group, Allow()
}

func (a *AccessService) lookupFile(ctx context.Context, fileID uuid.UUID) (*models.File, Verdict) {
	file, err := a.Files.Lookup(ctx, fileID)
	if errors.Is(err, ErrFileNotFound) {
		return nil, NotFound(ReasonFileNotFound)
	}
	if err != nil {
		return nil, a.lookupFailed("file", err)
	}
	return file, Allow()
}

func (a *AccessService) membership(ctx context.Context, actor Principal, groupID uuid.UUID) (*models.GroupMembership, Verdict) {
	m, err := a.Memberships.GetMembership(ctx, actor.ID, groupID)
	if errors.Is(err, ErrMembershipNotFound) {
		return nil, Deny(ReasonNotMember)
	}
	if err != nil {
		return nil, a.lookupFailed("membership", err)
	}
	return m, Allow()
}

func (a *AccessService) lookupFailed(what string, err error) Verdict {
	logger.Error("access_lookup_failed", err, map[string]interface{}{
		"lookup": what,
	})
	return Deny(ReasonLookupFailed)
}
