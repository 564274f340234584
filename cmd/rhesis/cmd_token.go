package main

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhesis-ai/rhesis/internal/auth"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/service"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

func newTokenCmd() *cobra.Command {
	var (
		orgID  string
		userID string
		name   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for a user of an organization",
		Long: `Mint an API token directly against the database. The bearer value is
printed once and cannot be recovered later.`,
		Run: func(cmd *cobra.Command, args []string) {
			id := tenant.Identity{OrganizationID: orgID, UserID: userID}
			if !models.IsUUID(id.OrganizationID) || !models.IsUUID(id.UserID) {
				fatal("token", errors.New("--org and --user must be UUIDs"))
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				fatal("startup", err)
			}
			defer a.close()

			auditWorker := service.NewAuditWorker(a.audit, a.log, auditQueueSize)
			auditCtx, stopAudit := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				auditWorker.Run(auditCtx)
				close(done)
			}()

			issuer := auth.NewIssuer(a.cfg.JWTSecret.Value(), a.cfg.JWTIssuer)
			svc := service.NewTokenService(a.tokens, issuer, nil, auditWorker, a.log)
			created, err := svc.MintToken(ctx, id, models.CreateTokenRequest{Name: name, ExpiresInDays: ttlDays(ttl)})

			// Flush the audit entry before exiting.
			stopAudit()
			<-done

			if err != nil {
				fatal("mint token", err)
			}
			output(created, created.AccessToken)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&name, "name", "cli", "Token name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime, rounded up to whole days (default 2160h, max 8760h)")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}


// ttlDays converts a lifetime into whole days, rounding up. Zero keeps the
// default lifetime.
func ttlDays(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	return int(math.Ceil(ttl.Hours() / 24))
}
