package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tortoisewolfe/securemsg/auth"
	"github.com/tortoisewolfe/securemsg/keyderivation"
	"github.com/tortoisewolfe/securemsg/keymanagement"
	"github.com/tortoisewolfe/securemsg/legacykeys"
)

func keysCmd(opts *rootOptions) *cobra.Command {
	var userID string

	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage a user's key pair",
	}
	keys.PersistentFlags().StringVarP(&userID, "user", "u", "", "user id (required)")
	keys.MarkPersistentFlagRequired("user")

	keys.AddCommand(
		keysStatusCmd(opts, &userID),
		keysInitCmd(opts, &userID),
		keysDeriveCmd(opts, &userID),
		keysMigrateCmd(opts, &userID),
		keysProvisionLegacyCmd(opts, &userID),
	)
	return keys
}

// openSession signs userID in for the lifetime of one command
func openSession(cmd *cobra.Command, opts *rootOptions, userID string) (*keymanagement.Session, error) {
	if userID == "" {
		return nil, errors.New("user id required (-u)")
	}
	provider := auth.NewStaticSessionProvider(&auth.User{ID: userID})
	return opts.appCtx.manager(provider).NewSession(cmd.Context())
}

func printKeyPair(cmd *cobra.Command, pair *keyderivation.DerivedKeyPair) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Public key: %s\n", pair.PublicKeyJWK.String())
	fmt.Fprintf(out, "Salt:       %s\n", pair.Salt)
}

func keysStatusCmd(opts *rootOptions, userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the user has no, legacy or derived keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := openSession(cmd, opts, *userID)
			if err != nil {
				return err
			}
			defer session.Close()

			status, err := session.KeyStatus(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Keys: %s\n", status)
			if status == keymanagement.StatusLegacy {
				fmt.Fprintln(cmd.OutOrStdout(), "Migration required: run `securemsg keys migrate`")
			}
			return nil
		},
	}
}

func keysInitCmd(opts *rootOptions, userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create password-derived keys for a user without keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, opts)
			if err != nil {
				return err
			}
			session, err := openSession(cmd, opts, *userID)
			if err != nil {
				return err
			}
			defer session.Close()

			pair, err := session.InitializeKeys(cmd.Context(), password)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Keys initialized.")
			printKeyPair(cmd, pair)
			return nil
		},
	}
}

func keysDeriveCmd(opts *rootOptions, userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "derive",
		Short: "Re-derive the user's keys and check them against the stored public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, opts)
			if err != nil {
				return err
			}
			session, err := openSession(cmd, opts, *userID)
			if err != nil {
				return err
			}
			defer session.Close()

			pair, err := session.DeriveKeys(cmd.Context(), password)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Password verified.")
			printKeyPair(cmd, pair)
			return nil
		},
	}
}

func keysMigrateCmd(opts *rootOptions, userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Replace the user's legacy key pair with a password-derived one",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, opts)
			if err != nil {
				return err
			}
			session, err := openSession(cmd, opts, *userID)
			if err != nil {
				return err
			}
			defer session.Close()

			out := cmd.OutOrStdout()
			pair, err := session.MigrateKeys(cmd.Context(), password, func(p keymanagement.Progress) {
				fmt.Fprintf(out, "%-13s %d/%d\n", p.Phase, p.Current, p.Total)
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Migration complete.")
			printKeyPair(cmd, pair)
			return nil
		},
	}
}

func keysProvisionLegacyCmd(opts *rootOptions, userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "provision-legacy",
		Short: "Create a random, salt-less key pair as accounts had before password-derived keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := opts.appCtx

			record, err := legacykeys.Provision(cmd.Context(), a.logger, *userID, a.legacy, a.userKeys)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Legacy key provisioned.\nPublic key: %s\n", record.PublicKeyJWK)
			return nil
		},
	}
}
