package ctl

import (
	"errors"
	"fmt"

	"github.com/cloudstorm/backend/internal/services"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/spf13/cobra"
)

func newPasscodeCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passcode",
		Short: "Manage private group passcodes",
	}
	cmd.AddCommand(newPasscodeSetCommand(rt))
	cmd.AddCommand(newPasscodeVerifyCommand(rt))
	return cmd
}

func newPasscodeSetCommand(rt *runtime) *cobra.Command {
	var passcode string
	var clearPasscode bool

	cmd := &cobra.Command{
		Use:   "set <group-id>",
		Short: "Replace a private group's passcode",
		Long: `Replace the passcode of a private group without answering the old one.
Use this when the group admins have lost the passcode.

  stormctl passcode set <group-id> --passcode 5678
  stormctl passcode set <group-id> --clear`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passcode == "" && !clearPasscode {
				return errors.New("either --passcode or --clear is required")
			}
			groupID, err := parseOptionalID("group", args[0])
			if err != nil {
				return err
			}

			vault, err := newVault(rt)
			if err != nil {
				return err
			}
			registry := services.NewGroupRegistry(rt.db, services.NewMembershipStore(rt.db))
			private, err := registry.IsPrivate(cmd.Context(), groupID)
			if err != nil {
				return err
			}
			if !private {
				return errors.New("group is not private")
			}

			if err := vault.SetPasscode(cmd.Context(), groupID, passcode); err != nil {
				return err
			}
			logger.Info("group_passcode_reset", map[string]interface{}{
				"group_id": groupID.String(),
				"cleared":  clearPasscode,
				"source":   "stormctl",
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Passcode updated for group %s\n", groupID)
			return nil
		},
	}
	cmd.Flags().StringVar(&passcode, "passcode", "", "New passcode")
	cmd.Flags().BoolVar(&clearPasscode, "clear", false, "Remove the stored passcode")
	return cmd
}

func newPasscodeVerifyCommand(rt *runtime) *cobra.Command {
	var passcode string

	cmd := &cobra.Command{
		Use:   "verify <group-id>",
		Short: "Check a candidate passcode against a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, err := parseOptionalID("group", args[0])
			if err != nil {
				return err
			}
			vault, err := newVault(rt)
			if err != nil {
				return err
			}
			group, err := services.NewGroupRegistry(rt.db, services.NewMembershipStore(rt.db)).Resolve(cmd.Context(), groupID)
			if err != nil {
				return err
			}

			ok := vault.Verify(cmd.Context(), group, passcode)
			if rt.json {
				return printJSON(cmd.OutOrStdout(), map[string]bool{"valid": ok})
			}
			if ok {
				fmt.Fprintln(cmd.OutOrStdout(), "valid")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "invalid")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&passcode, "passcode", "", "Candidate passcode")
	return cmd
}
