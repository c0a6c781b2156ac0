package ctl

import (
	"errors"
	"fmt"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/internal/services"
	"github.com/cloudstorm/backend/pkg/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type checkFlags struct {
	user     string
	action   string
	group    string
	file     string
	target   string
	passcode string
}

func newCheckCommand(rt *runtime) *cobra.Command {
	var f checkFlags

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate one access decision against the live data",
		Long: `Evaluate what the access engine would answer for a user and action.

  stormctl check --user <id> --action group.view --group <id>
  stormctl check --user <id> --action file.delete --file <id> --passcode 1234
  stormctl check --action file.view --file <id>          Anonymous caller`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(rt.db)
			if err != nil {
				return err
			}

			access, err := newAccessService(rt)
			if err != nil {
				return err
			}
			verdict := access.Decide(cmd.Context(), req)

			out := cmd.OutOrStdout()
			if rt.json {
				return printJSON(out, map[string]interface{}{
					"allowed": verdict.Allowed(),
					"outcome": verdict.Outcome.String(),
					"reason":  verdict.Reason.String(),
				})
			}
			fmt.Fprintln(out, verdict.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&f.user, "user", "", "User id (empty for anonymous)")
	cmd.Flags().StringVar(&f.action, "action", "", "Action, e.g. file.view or group.member_remove")
	cmd.Flags().StringVar(&f.group, "group", "", "Group id")
	cmd.Flags().StringVar(&f.file, "file", "", "File id")
	cmd.Flags().StringVar(&f.target, "target", "", "Target user id for member actions")
	cmd.Flags().StringVar(&f.passcode, "passcode", "", "Group passcode")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func (f checkFlags) request(db *gorm.DB) (services.Request, error) {
	req := services.Request{
		Action:   services.Action(f.action),
		Passcode: f.passcode,
	}

	var err error
	if req.GroupID, err = parseOptionalID("group", f.group); err != nil {
		return req, err
	}
	if req.FileID, err = parseOptionalID("file", f.file); err != nil {
		return req, err
	}
	if req.TargetUserID, err = parseOptionalID("target", f.target); err != nil {
		return req, err
	}

	userID, err := parseOptionalID("user", f.user)
	if err != nil || userID == uuid.Nil {
		return req, err
	}
	var user models.User
	if err := db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return req, fmt.Errorf("user %s not found", userID)
		}
		return req, fmt.Errorf("loading user: %w", err)
	}
	req.Actor = services.Principal{ID: user.ID, IsAuthenticated: true, IsVerified: user.IsVerified}
	return req, nil
}

func parseOptionalID(name, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return id, nil
}

func newVault(rt *runtime) (*services.PasscodeVault, error) {
	cipher, err := utils.NewCipher(rt.cfg.Encryption.Key)
	if err != nil {
		return nil, err
	}
	return services.NewPasscodeVault(rt.db, cipher)
}

func newAccessService(rt *runtime) (*services.AccessService, error) {
	vault, err := newVault(rt)
	if err != nil {
		return nil, err
	}
	memberships := services.NewMembershipStore(rt.db)
	return services.NewAccessService(
		memberships,
		services.NewGroupRegistry(rt.db, memberships),
		vault,
		services.NewStateGate(rt.db),
	), nil
}
