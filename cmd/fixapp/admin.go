package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/chin-flags/fixapp/internal/adapter/bcrypt"
	cfnats "github.com/chin-flags/fixapp/internal/adapter/nats"
	"github.com/chin-flags/fixapp/internal/adapter/postgres"
	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/domain/tenant"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/isolation"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/port/messagequeue"
	"github.com/chin-flags/fixapp/internal/service"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "tenant":
		if len(args) < 2 {
			printAdminHelp()
			return errors.New("missing tenant command")
		}
		switch args[1] {
		case "create":
			return runAdminTenantCreate(args[2:])
		case "list":
			return runAdminTenantList(args[2:])
		case "set-status":
			return runAdminTenantSetStatus(args[2:])
		}
		printAdminHelp()
		return fmt.Errorf("unknown tenant command: %s", args[1])
	case "create-user":
		return runAdminCreateUser(args[1:])
	case "list-users":
		return runAdminListUsers(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: fixapp admin <command> [options]

Commands:
  tenant create       Provision a tenant
  tenant list         List all tenants
  tenant set-status   Activate, deactivate or suspend a tenant
  create-user         Create a user inside a tenant
  list-users          List the users of a tenant
  help                Show this help message

Examples:
  fixapp admin tenant create --name "Acme Corp" --subdomain acme
  fixapp admin tenant set-status --subdomain acme --status suspended
  fixapp admin create-user --tenant acme --email admin@acme.com --name "Acme Admin" --role tenant_admin
  fixapp admin list-users --tenant acme
`)
}

// adminDeps is the slice of the service graph the admin commands need.
type adminDeps struct {
	tenants *service.TenantService
	users   *service.UserService
	close   func()
}

func loadAdminDeps(ctx context.Context) (*adminDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(config.Logging{Level: "warn", Format: "console", Service: "fixapp-admin"}, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	closers := []func(){pool.Close}

	// Tenant writes are announced so running instances drop cached entries.
	// The CLI still works without NATS; caches then expire on their TTL.
	var queue messagequeue.Queue
	if q, err := cfnats.Connect(ctx, cfg.NATS, log); err != nil {
		log.Warn("nats unavailable, tenant changes will not be broadcast", zap.Error(err))
	} else {
		queue = q
		closers = append(closers, func() { _ = q.Drain(); _ = q.Close() })
	}

	store := isolation.NewStore(postgres.NewStore(pool), isolation.NewGuard(log, nil, isolation.Options{}))
	hasher := bcrypt.New(cfg.Auth.BcryptCost)
	return &adminDeps{
		tenants: service.NewTenantService(store, nil, queue, "admin-cli", log),
		users:   service.NewUserService(store, hasher, log),
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			_ = log.Sync()
		},
	}, nil
}

// withTenant resolves subdomain and returns a context scoped to it.
func (d *adminDeps) withTenant(ctx context.Context, subdomain string) (context.Context, error) {
	t, err := d.tenants.GetBySubdomain(ctx, subdomain)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", subdomain, err)
	}
	return tenancy.WithTenant(ctx, tenancy.FromTenant(t)), nil
}

func runAdminTenantCreate(args []string) error {
	fs := flag.NewFlagSet("tenant create", flag.ContinueOnError)
	name := fs.String("name", "", "tenant display name (required)")
	subdomain := fs.String("subdomain", "", "tenant subdomain (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *subdomain == "" {
		return errors.New("--name and --subdomain are required")
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	t, err := deps.tenants.Create(ctx, tenant.CreateRequest{Name: *name, Subdomain: *subdomain})
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Tenant created: %s (id=%s, subdomain=%s)\n", t.Name, t.ID, t.Subdomain)
	return nil
}

func runAdminTenantList(args []string) error {
	fs := flag.NewFlagSet("tenant list", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	tenants, err := deps.tenants.List(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	if len(tenants) == 0 {
		fmt.Println("No tenants found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSUBDOMAIN\tNAME\tSTATUS\tCREATED")
	for i := range tenants {
		t := &tenants[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Subdomain, t.Name, t.Status, t.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func runAdminTenantSetStatus(args []string) error {
	fs := flag.NewFlagSet("tenant set-status", flag.ContinueOnError)
	subdomain := fs.String("subdomain", "", "tenant subdomain (required)")
	status := fs.String("status", "", "active, inactive or suspended (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subdomain == "" || *status == "" {
		return errors.New("--subdomain and --status are required")
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	t, err := deps.tenants.GetBySubdomain(ctx, *subdomain)
	if err != nil {
		return fmt.Errorf("tenant %s: %w", *subdomain, err)
	}
	if _, err := deps.tenants.SetStatus(ctx, t.ID, tenant.Status(*status)); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Tenant %s is now %s\n", t.Subdomain, *status)
	return nil
}

func runAdminCreateUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	subdomain := fs.String("tenant", "", "tenant subdomain (required)")
	email := fs.String("email", "", "user email address (required)")
	name := fs.String("name", "", "user display name (required)")
	role := fs.String("role", string(user.RoleTeamMember), "super_admin, tenant_admin, team_member or viewer")
	password := fs.String("password", "", "password (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *subdomain == "" {
		return errors.New("--tenant is required")
	}
	if *email == "" {
		return errors.New("--email is required")
	}
	if *name == "" {
		return errors.New("--name is required")
	}

	pass := *password
	if pass == "" {
		var err error
		pass, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if pass != confirm {
			return errors.New("passwords do not match")
		}
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	tctx, err := deps.withTenant(ctx, *subdomain)
	if err != nil {
		return err
	}
	u, err := deps.users.Create(tctx, user.CreateRequest{
		Email:    *email,
		Name:     *name,
		Password: pass,
		Role:     user.Role(*role),
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Fprintf(os.Stderr, "User created: %s (id=%s, role=%s, tenant=%s)\n", u.Email, u.ID, u.Role, *subdomain)
	return nil
}

func runAdminListUsers(args []string) error {
	fs := flag.NewFlagSet("list-users", flag.ContinueOnError)
	subdomain := fs.String("tenant", "", "tenant subdomain (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subdomain == "" {
		return errors.New("--tenant is required")
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	tctx, err := deps.withTenant(ctx, *subdomain)
	if err != nil {
		return err
	}
	users, err := deps.users.List(tctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tSTATUS")
	for i := range users {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			users[i].ID, users[i].Email, users[i].Name, users[i].Role, users[i].Status)
	}
	return w.Flush()
}

// runMigrate applies or rolls back the embedded migrations.
func runMigrate(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: fixapp migrate up|down [steps]|version")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	m, err := postgres.NewMigrator(pool, nil)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	switch args[0] {
	case "up":
		n, err := m.Up(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Applied %d migration(s)\n", n)
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
			steps = n
		}
		n, err := m.Down(ctx, steps)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", n)
	case "version":
	default:
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}

	v, err := m.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Schema version: %d\n", v)
	return nil
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after password input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
