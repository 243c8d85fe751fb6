package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tortoisewolfe/securemsg/ccc/logging"
	"github.com/tortoisewolfe/securemsg/config"
)

type rootOptions struct {
	configPath    string
	logLevel      string
	password      string
	passwordStdin bool

	appCtx *app
}

func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "securemsg",
		Short:         "Password-derived key management for end-to-end encrypted messaging",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			// serve logs to files; everything else logs to stderr
			var logger logging.Logger
			if cmd.Name() == "serve" {
				logger = logging.CreateLogger(logging.LogLevel(cfg.LogLevel), cfg.LogPath, "agent")
			} else {
				logger = logging.CreateConsoleLogger(logging.LogLevel(cfg.LogLevel), cmd.ErrOrStderr())
			}

			opts.appCtx, err = newApp(cfg, logger)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.appCtx == nil {
				return nil
			}
			return opts.appCtx.Close()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file, .toml, .yaml or .json (default ~/.securemsg/securemsg.toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&opts.password, "password", "p", "", "password for key derivation")
	root.PersistentFlags().BoolVar(&opts.passwordStdin, "password-stdin", false, "read the password from the first line of stdin")

	root.AddCommand(serveCmd(opts), verifyCmd(opts), keysCmd(opts), conversationCmd(opts), messageCmd(opts))
	return root
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// readPassword returns the password from --password or, with --password-stdin, from stdin
func readPassword(cmd *cobra.Command, opts *rootOptions) (string, error) {
	if opts.passwordStdin {
		return readLine(cmd.InOrStdin())
	}
	if opts.password == "" {
		return "", errors.New("password required (-p or --password-stdin)")
	}
	return opts.password, nil
}

func readLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return "", errors.New("no password on stdin")
	}

	password := strings.TrimRight(scanner.Text(), "\r")
	if password == "" {
		return "", errors.New("empty password on stdin")
	}
	return password, nil
}
