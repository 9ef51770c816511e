package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/api/internal/repos"
	"water-infra-dashboard/shared/authx"
	"water-infra-dashboard/shared/config"
	"water-infra-dashboard/shared/dbx"
	"water-infra-dashboard/shared/rbac"
	"water-infra-dashboard/shared/units"
)

const commandTimeout = 2 * time.Minute

var errMissingDatabase = errors.New("DATABASE_URL is required")

type userCreateOptions struct {
	email    string
	fullName string
	password string
	role     string
	region   string
	tenantID string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wmctl",
		Short:         "Operate the water monitoring backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newUsersCmd(), newTenantsCmd(), newConvertCmd(), newRolesCmd(), newOutboxCmd(), newAuditCmd())
	return root
}

// openPool loads the shared configuration and connects to Postgres.
func openPool() (*pgxpool.Pool, error) {
	cfg, _ := config.Load("wmctl", 0)
	if cfg.DatabaseURL == "" {
		return nil, errMissingDatabase
	}
	return dbx.NewPool(cfg)
}

func newMigrateCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				names, err := repos.MigrationNames()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			applied, err := repos.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list embedded migrations without applying them")
	return cmd
}

func newUsersCmd() *cobra.Command {
	users := &cobra.Command{Use: "users", Short: "Manage local accounts"}

	var opts userCreateOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a local account with a password",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := buildUser(opts)
			if err != nil {
				return err
			}
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			created, err := repos.NewUsersRepo(pool).Create(ctx, user)
			if errors.Is(err, repos.ErrConflict) {
				return fmt.Errorf("email %s is already registered", user.Email)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s, %s)\n", created.UserID, created.Email, created.Role)
			return nil
		},
	}
	create.Flags().StringVar(&opts.email, "email", "", "login email")
	create.Flags().StringVar(&opts.fullName, "name", "", "full name")
	create.Flags().StringVar(&opts.password, "password", "", "initial password")
	create.Flags().StringVar(&opts.role, "role", string(rbac.RoleOperator), "role")
	create.Flags().StringVar(&opts.region, "region", "", "region scope")
	create.Flags().StringVar(&opts.tenantID, "tenant", "", "tenant id")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	users.AddCommand(create)
	return users
}

// buildUser validates flags and hashes the password.
func buildUser(opts userCreateOptions) (models.User, error) {
	email := strings.TrimSpace(opts.email)
	if !strings.Contains(email, "@") {
		return models.User{}, fmt.Errorf("invalid email %q", opts.email)
	}
	if len(opts.password) < authx.MinPasswordLength {
		return models.User{}, fmt.Errorf("password must be at least %d characters", authx.MinPasswordLength)
	}
	role, ok := rbac.ParseRole(opts.role)
	if !ok {
		return models.User{}, fmt.Errorf("unknown role %q", opts.role)
	}
	hash, err := authx.HashPassword(opts.password)
	if err != nil {
		return models.User{}, err
	}
	user := models.User{
		Email:        email,
		FullName:     strings.TrimSpace(opts.fullName),
		PasswordHash: &hash,
		Role:         string(role),
		IsActive:     true,
	}
	if user.FullName == "" {
		user.FullName = email
	}
	if region := strings.TrimSpace(opts.region); region != "" {
		user.Region = &region
	}
	if opts.tenantID != "" {
		tenantID, err := uuid.Parse(opts.tenantID)
		if err != nil {
			return models.User{}, fmt.Errorf("invalid tenant id: %w", err)
		}
		user.TenantID = &tenantID
	}
	return user, nil
}

func newTenantsCmd() *cobra.Command {
	tenants := &cobra.Command{Use: "tenants", Short: "Manage tenants"}

	var name string
	create := &cobra.Command{
		Use:   "create <slug>",
		Short: "Create a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug, err := normalizeSlug(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(name) == "" {
				name = slug
			}
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			tenant, err := repos.NewTenantsRepo(pool).CreateTenant(ctx, slug, strings.TrimSpace(name))
			if errors.Is(err, repos.ErrConflict) {
				return fmt.Errorf("tenant %s already exists", slug)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created tenant %s (%s)\n", tenant.TenantID, tenant.Slug)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			items, err := repos.NewTenantsRepo(pool).List(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSLUG\tNAME")
			for _, t := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.TenantID, t.Slug, t.Name)
			}
			return tw.Flush()
		},
	}

	tenants.AddCommand(create, list)
	return tenants
}

// normalizeSlug lower-cases a tenant slug and allows only [a-z0-9-].
func normalizeSlug(raw string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(raw))
	if slug == "" {
		return "", errors.New("slug is required")
	}
	for _, r := range slug {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return "", fmt.Errorf("invalid slug %q", raw)
		}
	}
	return slug, nil
}

func newConvertCmd() *cobra.Command {
	var listPairs bool
	cmd := &cobra.Command{
		Use:   "convert <value> <from> <to>",
		Short: "Convert a measurement between units",
		Args: func(cmd *cobra.Command, args []string) error {
			if listPairs {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(3)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if listPairs {
				return printPairs(cmd.OutOrStdout(), units.Default())
			}
			return runConvert(cmd.OutOrStdout(), units.Default(), args)
		},
	}
	cmd.Flags().BoolVar(&listPairs, "list", false, "list supported unit pairs")
	return cmd
}

func runConvert(w io.Writer, registry *units.Registry, args []string) error {
	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q", args[0])
	}
	converted, ok := registry.Convert(value, args[1], args[2])
	if !ok {
		return fmt.Errorf("no conversion from %s to %s", args[1], args[2])
	}
	_, err = fmt.Fprintf(w, "%g %s = %.4f %s\n", value, args[1], converted, args[2])
	return err
}

func printPairs(w io.Writer, registry *units.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM\tTO")
	for _, p := range registry.Pairs() {
		fmt.Fprintf(tw, "%s\t%s\n", p.From, p.To)
	}
	return tw.Flush()
}

func newRolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "Print the role permission matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printRoles(cmd.OutOrStdout(), rbac.DefaultMatrix())
		},
	}
}

func printRoles(w io.Writer, matrix rbac.Matrix) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tPERMISSIONS")
	for _, role := range matrix.Roles() {
		perms := matrix.Permissions(role)
		names := make([]string, 0, len(perms))
		for _, p := range perms {
			names = append(names, string(p))
		}
		fmt.Fprintf(tw, "%s\t%s\n", role, strings.Join(names, ","))
	}
	return tw.Flush()
}

func newOutboxCmd() *cobra.Command {
	outbox := &cobra.Command{Use: "outbox", Short: "Inspect the event outbox"}
	outbox.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Count outbox events by delivery status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			counts, err := repos.NewOutboxRepo(pool).CountByStatus(ctx)
			if err != nil {
				return err
			}
			return printCounts(cmd.OutOrStdout(), counts)
		},
	})
	return outbox
}

func printCounts(w io.Writer, counts map[string]int64) error {
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tCOUNT")
	for _, status := range statuses {
		fmt.Fprintf(tw, "%s\t%d\n", status, counts[status])
	}
	return tw.Flush()
}

func newAuditCmd() *cobra.Command {
	var (
		actor  string
		action string
		since  time.Duration
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := repos.AuditFilter{Action: action, Limit: limit}
			if actor != "" {
				id, err := uuid.Parse(actor)
				if err != nil {
					return fmt.Errorf("invalid actor id: %w", err)
				}
				filter.ActorUserID = &id
			}
			if since > 0 {
				from := time.Now().UTC().Add(-since)
				filter.Since = &from
			}
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			entries, err := repos.NewAuditRepo(pool).Recent(ctx, filter)
			if err != nil {
				return err
			}
			return printAudit(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor user id")
	cmd.Flags().StringVar(&action, "action", "", "filter by action prefix, e.g. alert.")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "only entries newer than this")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}

func printAudit(w io.Writer, entries []models.AuditLog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tSTATUS\tACTOR\tRESOURCE")
	for _, e := range entries {
		actor := "-"
		if e.ActorUserID != nil {
			actor = e.ActorUserID.String()
		}
		resource := "-"
		if e.ResourceType != nil {
			resource = *e.ResourceType
			if e.ResourceID != nil {
				resource += "/" + *e.ResourceID
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.OccurredAt.Format(time.RFC3339), e.Action, e.StatusCode, actor, resource)
	}
	return tw.Flush()
}
