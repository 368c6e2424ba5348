// authctl is the operator CLI for sessionguard. It works directly against the
// configured store, so it can run while the server is down.
//
//	authctl migrate
//	authctl user-add --identifier alice --display-name Alice
//	authctl sweep
//	authctl secret
//
// Store and pepper settings default to the same AUTH_* environment variables
// the server reads.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/aussiebroadwan/sessionguard/internal/auth/app"
	"github.com/aussiebroadwan/sessionguard/internal/auth/service"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	summary string
	run     func(ctx context.Context, cfg app.Config, flags *pflag.FlagSet, out io.Writer) error
	flags   func(*pflag.FlagSet)
}

var commands = map[string]command{
	"migrate": {
		summary: "apply pending schema migrations",
		run:     runMigrate,
	},
	"user-add": {
		summary: "enroll a user account",
		run:     runUserAdd,
		flags: func(fs *pflag.FlagSet) {
			fs.String("identifier", "", "login identifier (required)")
			fs.String("display-name", "", "display name (defaults to the identifier)")
			fs.String("secret", "", "login secret (generated and printed when empty)")
		},
	},
	"sweep": {
		summary: "remove expired ledger rows and old audit events",
		run:     runSweep,
	},
	"secret": {
		summary: "print a random value suitable for AUTH_ACCESS_SECRET or AUTH_RENEWAL_SECRET",
		run:     runSecret,
	},
}

var commandOrder = []string{"migrate", "user-add", "sweep", "secret"}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(out)
		return nil
	}

	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		printUsage(out)
		return fmt.Errorf("unknown command %q", name)
	}

	cfg := app.Config{
		StoreDriver:  envOr("AUTH_STORE_DRIVER", app.DriverSQLite),
		DatabaseFile: envOr("AUTH_DATABASE_FILE", "auth.db"),
		DatabaseURL:  os.Getenv("AUTH_DATABASE_URL"),
		PepperFile:   envOr("AUTH_PEPPER_FILE", "pepper"),
		LogLevel:     envOr("LOG_LEVEL", "warn"),
		LogFormat:    envOr("LOG_FORMAT", "text"),
		Env:          envOr("ENV", "dev"),
	}

	flagSet := pflag.NewFlagSet("authctl "+name, pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVar(&cfg.StoreDriver, "driver", cfg.StoreDriver, "store driver (sqlite or postgres)")
	flagSet.StringVar(&cfg.DatabaseFile, "database-file", cfg.DatabaseFile, "SQLite database file")
	flagSet.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection URL")
	flagSet.StringVar(&cfg.PepperFile, "pepper-file", cfg.PepperFile, "secret pepper file")
	flagSet.BoolP("help", "h", false, "show help")
	if cmd.flags != nil {
		cmd.flags(flagSet)
	}

	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintf(out, "Usage: authctl %s [flags]\n\n%s\n\nFlags:\n", name, cmd.summary)
		flagSet.PrintDefaults()
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("%s: unexpected arguments %v", name, flagSet.Args())
	}

	return cmd.run(ctx, cfg, flagSet, out)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage: authctl <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(out, "  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Run 'authctl <command> --help' for command flags.")
}

func openStore(ctx context.Context, cfg app.Config) (store.Store, error) {
	return app.OpenStore(ctx, cfg, app.NewLogger(cfg))
}

func runMigrate(ctx context.Context, cfg app.Config, _ *pflag.FlagSet, out io.Writer) error {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Fprintf(out, "migrations applied (%s)\n", cfg.StoreDriver)
	return nil
}

func runUserAdd(ctx context.Context, cfg app.Config, flags *pflag.FlagSet, out io.Writer) error {
	identifier, _ := flags.GetString("identifier")
	displayName, _ := flags.GetString("display-name")
	secret, _ := flags.GetString("secret")

	if identifier == "" {
		return errors.New("user-add: --identifier is required")
	}
	if displayName == "" {
		displayName = identifier
	}

	generated := secret == ""
	if generated {
		var err error
		if secret, err = cryptox.GeneratePassword(); err != nil {
			return err
		}
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	users, err := app.NewUserAuthenticator(cfg, db)
	if err != nil {
		return err
	}

	user, err := users.Enroll(ctx, identifier, displayName, secret)
	if err != nil {
		if errors.Is(err, service.ErrIdentifierTaken) {
			return fmt.Errorf("user-add: %q is already enrolled", identifier)
		}
		return err
	}

	fmt.Fprintf(out, "enrolled %s (id %s)\n", user.Identifier, user.ID)
	if generated {
		fmt.Fprintf(out, "secret: %s\n", secret)
	}
	return nil
}

func runSweep(ctx context.Context, cfg app.Config, _ *pflag.FlagSet, out io.Writer) error {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := service.NewSessionService(service.Options{Store: db, Clock: idx.System{}})
	res := service.NewHousekeepingService(svc, slogx.Discard(), 0).Sweep(ctx)

	fmt.Fprintf(out, "revocations %d\nrotations   %d\nsessions    %d\naudit       %d\n",
		res.Revocations, res.Rotations, res.Sessions, res.Audit)
	return nil
}

func runSecret(_ context.Context, _ app.Config, _ *pflag.FlagSet, out io.Writer) error {
	secret, err := cryptox.GenerateToken(cryptox.TokenSize512)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, secret)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
