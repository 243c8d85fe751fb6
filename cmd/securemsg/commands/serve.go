package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tortoisewolfe/securemsg/auth"
	"github.com/tortoisewolfe/securemsg/config"
	"github.com/tortoisewolfe/securemsg/web"
	"github.com/tortoisewolfe/securemsg/web/sessions"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback key agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := opts.appCtx
			cfg := a.cfg
			logger := a.logger

			// try to save the config in case it was not found
			path := opts.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := cfg.SaveConfig(path); err != nil {
					logger.Warn("Failed to save configuration", "path", path, "error", err)
				}
			}

			// Set up session store
			sessionKey, err := sessions.GetOrCreateSessionKey(cfg.SessionKeyPath)
			if err != nil {
				return fmt.Errorf("failed to get or create session key: %w", err)
			}
			cookieStore := sessions.NewCookieStore(sessionKey, cfg.SecureCookies)

			agentToken, err := sessions.GetOrCreateAgentToken(cfg.AgentTokenPath)
			if err != nil {
				return fmt.Errorf("failed to get or create agent token: %w", err)
			}

			// the agent learns the user from the request, never from process state
			manager := a.manager(auth.ContextSessionProvider)

			addr := fmt.Sprintf("%s:%d", cfg.WebAddr, cfg.WebPort)
			server := web.NewServer(logger, manager, cookieStore, web.Options{
				Addr:           addr,
				TrustedProxies: cfg.TrustedProxies,
				AgentToken:     agentToken,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errs := make(chan error, 1)
			go func() {
				errs <- server.Run()
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "Key agent listening on http://%s\n", addr)
			fmt.Fprintf(cmd.OutOrStdout(), "Sign-in requires the bearer token in %s\n", cfg.AgentTokenPath)

			select {
			case err := <-errs:
				logger.Error("Key agent stopped", "error", err)
				return err
			case <-ctx.Done():
			}

			logger.Info("Shutting down key agent")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
