package commands

import (
	"crypto/ecdh"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tortoisewolfe/securemsg/keymanagement"
)

func conversationCmd(opts *rootOptions) *cobra.Command {
	conversation := &cobra.Command{
		Use:   "conversation",
		Short: "Manage conversations",
	}

	var participants []string
	create := &cobra.Command{
		Use:   "create <conversation-id>",
		Short: "Create a conversation and wrap its key for every participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.appCtx.conversations.Create(cmd.Context(), args[0], participants); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s created for %s.\n", args[0], strings.Join(participants, ", "))
			return nil
		},
	}
	create.Flags().StringSliceVar(&participants, "participants", nil, "comma separated user ids")
	create.MarkFlagRequired("participants")

	conversation.AddCommand(create)
	return conversation
}

func messageCmd(opts *rootOptions) *cobra.Command {
	var userID, conversationID string

	message := &cobra.Command{
		Use:   "message",
		Short: "Send or read encrypted messages",
	}
	message.PersistentFlags().StringVarP(&userID, "user", "u", "", "user id (required)")
	message.PersistentFlags().StringVar(&conversationID, "conversation", "", "conversation id (required)")
	message.MarkPersistentFlagRequired("user")
	message.MarkPersistentFlagRequired("conversation")

	send := &cobra.Command{
		Use:   "send <text>",
		Short: "Encrypt and store a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, done, err := privateKey(cmd, opts, userID)
			if err != nil {
				return err
			}
			defer done()

			sent, err := opts.appCtx.messages.Send(cmd.Context(), conversationID, userID, key, []byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Message %s sent.\n", sent.ID)
			return nil
		},
	}

	var limit int
	read := &cobra.Command{
		Use:   "read",
		Short: "Load and decrypt the newest messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, done, err := privateKey(cmd, opts, userID)
			if err != nil {
				return err
			}
			defer done()

			decrypted, err := opts.appCtx.messages.Read(cmd.Context(), conversationID, userID, key, limit)
			if err != nil {
				return err
			}
			for _, m := range decrypted {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04:05"), m.SenderID, m.Body)
			}
			return nil
		},
	}
	read.Flags().IntVarP(&limit, "limit", "n", 20, "number of messages, 0 for all")

	message.AddCommand(send, read)
	return message
}

// privateKey unlocks the user's private key: derived from the password for
// migrated users, or read from the local legacy store for legacy users
func privateKey(cmd *cobra.Command, opts *rootOptions, userID string) (*ecdh.PrivateKey, func(), error) {
	session, err := openSession(cmd, opts, userID)
	if err != nil {
		return nil, nil, err
	}

	status, err := session.KeyStatus(cmd.Context())
	if err != nil {
		session.Close()
		return nil, nil, err
	}

	switch status {
	case keymanagement.StatusLegacy:
		session.Close()
		key, err := opts.appCtx.legacy.Load(userID)
		if err != nil {
			return nil, nil, err
		}
		if key == nil {
			return nil, nil, errors.New("legacy private key not found on this device")
		}
		return key, func() {}, nil
	case keymanagement.StatusMissing:
		session.Close()
		return nil, nil, keymanagement.NewKeysNotInitializedError(userID)
	}

	password, err := readPassword(cmd, opts)
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	pair, err := session.DeriveKeys(cmd.Context(), password)
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	return pair.PrivateKey, session.Close, nil
}
