package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/avasiliev/tokenguard/internal/models"
)

const usage = `Usage: tokenguard [global flags] <command> [command flags]

Commands:
  issue       issue the first refresh token of a new session
  rotate      exchange a refresh token for its successor
  sessions    list active sessions of a user
  revoke      revoke one session
  revoke-all  revoke every session of a user
  sweep       delete long expired revoked tokens
`

func main() {
	ctx := context.Background()

	// Initialize context that cancelled on SIGTERM
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("command failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	c := NewConfig()

	if err := c.LoadDotEnv(os.Getwd); err != nil {
		return fmt.Errorf("error while loading .env file: %w", err)
	}
	c.LoadEnv(os.Getenv)

	rest, err := c.ParseFlags(args)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}

	if len(rest) == 0 {
		fmt.Print(usage)
		return fmt.Errorf("no command given")
	}
	command, cmdArgs := rest[0], rest[1:]

	app, err := NewApp(ctx, c)
	if err != nil {
		return err
	}
	defer app.Close()

	switch command {
	case "issue":
		return runIssue(ctx, app, cmdArgs)
	case "rotate":
		return runRotate(ctx, app, cmdArgs)
	case "sessions":
		return runSessions(ctx, app, cmdArgs)
	case "revoke":
		return runRevoke(ctx, app, cmdArgs)
	case "revoke-all":
		return runRevokeAll(ctx, app, cmdArgs)
	case "sweep":
		return runSweep(ctx, app, cmdArgs)
	default:
		fmt.Print(usage)
		return fmt.Errorf("unknown command: %q", command)
	}
}

// deviceFlags registers the shared device metadata flags
func deviceFlags(fs *pflag.FlagSet, device *models.DeviceInfo) {
	fs.StringVar(&device.IP, "ip", "", "Request IP address")
	fs.StringVar(&device.UserAgent, "user-agent", "", "Request user agent")
	fs.StringVar(&device.Fingerprint, "fingerprint", "", "Device fingerprint")
	fs.StringVar(&device.Name, "device-name", "", "Human readable device name")
}

func runIssue(ctx context.Context, app *App, args []string) error {
	fs := pflag.NewFlagSet("issue", pflag.ContinueOnError)
	user := fs.StringP("user", "u", "", "User id (uuid)")
	tenant := fs.String("tenant", "", "Tenant id (uuid, optional)")
	var device models.DeviceInfo
	deviceFlags(fs, &device)
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*user)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}

	var tenantID *uuid.UUID
	if *tenant != "" {
		id, err := uuid.Parse(*tenant)
		if err != nil {
			return fmt.Errorf("invalid --tenant: %w", err)
		}
		tenantID = &id
	}

	return app.Issue(ctx, userID, tenantID, device)
}

func runRotate(ctx context.Context, app *App, args []string) error {
	fs := pflag.NewFlagSet("rotate", pflag.ContinueOnError)
	token := fs.StringP("token", "t", "", "Refresh token value to rotate")
	var device models.DeviceInfo
	deviceFlags(fs, &device)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *token == "" {
		return fmt.Errorf("--token is required")
	}

	return app.Rotate(ctx, *token, device)
}

func runSessions(ctx context.Context, app *App, args []string) error {
	fs := pflag.NewFlagSet("sessions", pflag.ContinueOnError)
	user := fs.StringP("user", "u", "", "User id (uuid)")
	current := fs.String("current", "", "Caller's own refresh token, marks its session as current")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*user)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}

	return app.Sessions(ctx, userID, *current)
}

func runRevoke(ctx context.Context, app *App, args []string) error {
	fs := pflag.NewFlagSet("revoke", pflag.ContinueOnError)
	user := fs.StringP("user", "u", "", "User id (uuid)")
	family := fs.StringP("family", "f", "", "Session (family) id to revoke")
	ip := fs.String("ip", "", "Actor IP address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*user)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}
	familyID, err := uuid.Parse(*family)
	if err != nil {
		return fmt.Errorf("invalid --family: %w", err)
	}

	return app.Revoke(ctx, userID, familyID, *ip)
}

func runRevokeAll(ctx context.Context, app *App, args []string) error {
	fs := pflag.NewFlagSet("revoke-all", pflag.ContinueOnError)
	user := fs.StringP("user", "u", "", "User id (uuid)")
	except := fs.String("except", "", "Family id to keep alive (optional)")
	ip := fs.String("ip", "", "Actor IP address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*user)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}

	var exceptFamily *uuid.UUID
	if *except != "" {
		id, err := uuid.Parse(*except)
		if err != nil {
			return fmt.Errorf("invalid --except: %w", err)
		}
		exceptFamily = &id
	}

	return app.RevokeAll(ctx, userID, exceptFamily, *ip)
}

func runSweep(ctx context.Context, app *App, args []string) error {
	fs := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	days := fs.Int("older-than-days", 90, "Delete revoked tokens expired at least this many days ago")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return app.Sweep(ctx, time.Duration(*days)*24*time.Hour)
}
