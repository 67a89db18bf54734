package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/procpipe/internal/auth"
)

func newTokenCmd(g *globals) *cobra.Command {
	var (
		subject string
		scope   string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Long: `Token signs a bearer token for the HTTP API with security.jwt.secret
(or PROCPIPE_JWT_SECRET). The read scope can inspect runs; the control scope
can also stop the live process.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			sc, ok := auth.ParseScope(scope)
			if !ok {
				return &usageError{err: fmt.Errorf("--scope %q: want read or control", scope)}
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}

			token, err := auth.GenerateToken(subject, sc, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(g.stdout, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().StringVar(&scope, "scope", string(auth.ScopeRead), "token scope (read or control)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: security.jwt.access_token_ttl minutes)")
	return cmd
}
