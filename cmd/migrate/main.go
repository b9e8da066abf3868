package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/crypto/bcrypt"

	"posledger/internal/config"
	"posledger/internal/domain"
	pgstore "posledger/internal/store/postgres"
)

func main() {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	commander := subcommands.NewCommander(flag.CommandLine, "migrate")
	commander.Register(commander.HelpCommand(), "")
	commander.Register(&upCmd{}, "schema")
	commander.Register(&seedCmd{}, "schema")
	commander.Register(&rebuildStockCmd{}, "maintenance")
	commander.Register(&createUserCmd{}, "maintenance")
	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// dbFlag is embedded by every command that talks to Postgres.
type dbFlag struct {
	databaseURL string
}

func (d *dbFlag) register(f *flag.FlagSet) {
	f.StringVar(&d.databaseURL, "db", config.Load().DatabaseURL, "Postgres connection string (defaults to DATABASE_URL).")
}

func (d *dbFlag) open(ctx context.Context) (*pgstore.Store, error) {
	if strings.TrimSpace(d.databaseURL) == "" {
		return nil, fmt.Errorf("no database configured: pass -db or set DATABASE_URL")
	}
	return pgstore.New(ctx, d.databaseURL)
}

// --- upCmd ---

type upCmd struct {
	dbFlag
}

func (*upCmd) Name() string     { return "up" }
func (*upCmd) Synopsis() string { return "apply every pending schema migration" }
func (*upCmd) Usage() string {
	return `migrate up [-db <url>]

Applies pending migrations in order. Already applied versions are skipped,
so running it twice is safe.
`
}
func (c *upCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *upCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	st, err := c.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer st.Close()

	applied, err := st.Migrate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error applying migrations: %v\n", err)
		return subcommands.ExitFailure
	}
	if len(applied) == 0 {
		fmt.Println("schema is up to date")
		return subcommands.ExitSuccess
	}
	fmt.Printf("applied %d migration(s): %v\n", len(applied), applied)
	return subcommands.ExitSuccess
}

// --- seedCmd ---

type seedCmd struct {
	dbFlag
}

func (*seedCmd) Name() string     { return "seed" }
func (*seedCmd) Synopsis() string { return "insert the default locations and units of measure" }
func (*seedCmd) Usage() string {
	return `migrate seed [-db <url>]

Inserts the default location and unit-of-measure catalog. Existing rows
with the same name are left alone.
`
}
func (c *seedCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *seedCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	st, err := c.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer st.Close()

	n, err := st.Seed(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error seeding catalog: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("inserted %d catalog row(s)\n", n)
	return subcommands.ExitSuccess
}

// --- rebuildStockCmd ---

type rebuildStockCmd struct {
	dbFlag
}

func (*rebuildStockCmd) Name() string { return "rebuild-stock" }
func (*rebuildStockCmd) Synopsis() string {
	return "recompute every product's cached stock from the inventory ledger"
}
func (*rebuildStockCmd) Usage() string {
	return `migrate rebuild-stock [-db <url>]

Recomputes the cached stock quantity of every product from the ledger.
Use it after restoring a backup or when the cache is suspected stale.
`
}
func (c *rebuildStockCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *rebuildStockCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	st, err := c.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer st.Close()

	n, err := st.RebuildStockCache(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error rebuilding stock cache: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("refreshed cached stock for %d product(s)\n", n)
	return subcommands.ExitSuccess
}

// --- createUserCmd ---

type createUserCmd struct {
	dbFlag
	username string
	password string
	role     string
}

func (*createUserCmd) Name() string     { return "create-user" }
func (*createUserCmd) Synopsis() string { return "create a login account" }
func (*createUserCmd) Usage() string {
	return `migrate create-user -username <name> -password <secret> [-role admin|cashier] [-db <url>]

Creates an active account with a bcrypt-hashed password.
`
}
func (c *createUserCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
	f.StringVar(&c.username, "username", "", "Login name, at least 4 characters.")
	f.StringVar(&c.password, "password", "", "Password, at least 6 characters.")
	f.StringVar(&c.role, "role", domain.RoleCashier, "Account role: admin or cashier.")
}

func (c *createUserCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	user, err := newUserAccount(c.username, c.password, c.role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	st, err := c.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer st.Close()

	if err := st.CreateUser(ctx, user); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating user: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("created %s account %q\n", user.Role, user.Username)
	return subcommands.ExitSuccess
}

func newUserAccount(username, password, role string) (domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	role = strings.ToLower(strings.TrimSpace(role))
	if len(username) < 4 || strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, fmt.Errorf("-username must be at least 4 characters without spaces")
	}
	if len(password) < 6 {
		return domain.UserAccount{}, fmt.Errorf("-password must be at least 6 characters")
	}
	if role != domain.RoleAdmin && role != domain.RoleCashier {
		return domain.UserAccount{}, fmt.Errorf("-role must be %s or %s", domain.RoleAdmin, domain.RoleCashier)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserAccount{}, err
	}
	return domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}, nil
}
