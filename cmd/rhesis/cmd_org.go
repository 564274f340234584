package main

import (
	"context"
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/service"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

func newOrgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations and their users",
	}
	cmd.AddCommand(orgCreateCmd())
	cmd.AddCommand(orgShowCmd())
	cmd.AddCommand(orgListCmd())
	cmd.AddCommand(orgAddUserCmd())
	cmd.AddCommand(orgUsersCmd())
	return cmd
}

// identityFlags binds --org and --user, the identity a command acts as.
type identityFlags struct {
	orgID  string
	userID string
}

func (f *identityFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.orgID, "org", "", "Organization ID to act as (required)")
	cmd.Flags().StringVar(&f.userID, "user", "", "User ID to act as (required)")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("user")
}

func (f *identityFlags) identity() tenant.Identity {
	id := tenant.Identity{OrganizationID: f.orgID, UserID: f.userID}
	if !models.IsUUID(id.OrganizationID) || !models.IsUUID(id.UserID) {
		fatal("identity", errors.New("--org and --user must be UUIDs"))
	}
	return id
}

type bootstrapResult struct {
	Organization *models.Organization `json:"organization"`
	User         *models.User         `json:"user"`
}

func orgCreateCmd() *cobra.Command {
	var (
		name      string
		email     string
		userName  string
		superuser bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an organization with its first user",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				fatal("startup", err)
			}
			defer a.close()

			org, user, err := a.orgs.Bootstrap(ctx, name, email, userName, superuser)
			if err != nil {
				fatal("create organization", err)
			}
			output(bootstrapResult{Organization: org, User: user}, org.ID)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Organization name (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email of the first user (required)")
	cmd.Flags().StringVar(&userName, "user-name", "", "Display name of the first user")
	cmd.Flags().BoolVar(&superuser, "superuser", false, "Make the first user a superuser")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func orgShowCmd() *cobra.Command {
	var flags identityFlags

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the organization of the acting user",
		Run: func(cmd *cobra.Command, args []string) {
			id := flags.identity()
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				fatal("startup", err)
			}
			defer a.close()

			org, err := a.orgs.Get(ctx, id)
			if err != nil {
				fatal("show organization", err)
			}
			output(org, org.ID)
		},
	}
	flags.bind(cmd)

	return cmd
}

func orgListCmd() *cobra.Command {
	var (
		flags identityFlags
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every organization (superusers only)",
		Run: func(cmd *cobra.Command, args []string) {
			id := flags.identity()
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

			svc := service.NewAdminService(a.orgs, a.users, auditWorker, a.log)
			page, err := svc.ListOrganizations(ctx, id, models.ListParams{Limit: limit})

			stopAudit()
			<-done

			if err != nil {
				fatal("list organizations", err)
			}
			output(page.Items, strconv.Itoa(page.Total))
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of organizations")

	return cmd
}

func orgAddUserCmd() *cobra.Command {
	var (
		flags     identityFlags
		email     string
		name      string
		superuser bool
	)

	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "Add a user to the acting user's organization",
		Run: func(cmd *cobra.Command, args []string) {
			id := flags.identity()
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				fatal("startup", err)
			}
			defer a.close()

			user, err := a.users.Create(ctx, id, email, name, superuser)
			if err != nil {
				fatal("add user", err)
			}
			output(user, user.ID)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&email, "email", "", "Email of the new user (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name of the new user")
	cmd.Flags().BoolVar(&superuser, "superuser", false, "Make the new user a superuser")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func orgUsersCmd() *cobra.Command {
	var (
		flags identityFlags
		limit int
	)

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users of the acting user's organization",
		Run: func(cmd *cobra.Command, args []string) {
			id := flags.identity()
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				fatal("startup", err)
			}
			defer a.close()

			page, err := a.users.List(ctx, id, models.ListParams{Limit: limit})
			if err != nil {
				fatal("list users", err)
			}
			output(page.Items, strconv.Itoa(page.Total))
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of users")

	return cmd
}
