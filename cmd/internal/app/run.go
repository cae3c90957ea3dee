package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatgate/cmd/internal/invite"
)

// Run is the CLI entrypoint used by cmd/chatgate.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run(args []string, out io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return serve(ctx)
	case "invite":
		if len(args) == 0 || args[0] != "create" {
			return errors.New("usage: chatgate invite create -quota N [-ttl D] [-max-uses N] [-note S]")
		}
		in, err := ParseInviteFlags(flag.NewFlagSet("invite create", flag.ContinueOnError), args[1:])
		if err != nil {
			return err
		}
		return createInvite(ctx, in, out)
	default:
		return fmt.Errorf("unknown command %q (want serve or invite)", cmd)
	}
}

func serve(ctx context.Context) error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// ParseInviteFlags parses `invite create` flags.
func ParseInviteFlags(fs *flag.FlagSet, args []string) (invite.CreateInput, error) {
	var (
		in   invite.CreateInput
		note string
	)
	fs.SetOutput(io.Discard)
	fs.Int64Var(&in.TokenQuota, "quota", 0, "token quota granted to each session (required)")
	fs.DurationVar(&in.TTL, "ttl", 7*24*time.Hour, "how long the code can be redeemed")
	fs.IntVar(&in.MaxUses, "max-uses", 1, "number of sessions the code can mint")
	fs.StringVar(&note, "note", "", "operator note stored with the code")
	if err := fs.Parse(args); err != nil {
		return invite.CreateInput{}, err
	}
	if fs.NArg() > 0 {
		return invite.CreateInput{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if in.TokenQuota <= 0 {
		return invite.CreateInput{}, errors.New("-quota must be positive")
	}
	if note != "" {
		in.Note = &note
	}
	return in, nil
}

// createInvite mints one invite code in the configured database and prints the plain code.
func createInvite(ctx context.Context, in invite.CreateInput, out io.Writer) error {
	cfg := LoadConfig()
	if cfg.DatabaseURL == "" {
		return errors.New("invite create: CHATGATE_DATABASE_URL is required")
	}
	secrets, err := LoadSecrets()
	if err != nil {
		return err
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if cfg.DBApplySchema {
		if err := EnsureSchema(ctx, pool, cfg.DBSchema); err != nil {
			return err
		}
	}

	store, err := invite.NewPostgresStore(pool, invite.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}
	svc, err := invite.NewService(store, invite.WithHashKey(secrets.SessionKey))
	if err != nil {
		return err
	}

	code, plain, err := svc.CreateCode(ctx, in)
	if err != nil {
		return err
	}
	if out == nil {
		out = os.Stdout
	}
	_, err = fmt.Fprintf(out, "code=%s id=%s quota=%d max_uses=%d expires_at=%s\n",
		plain, code.ID, code.TokenQuota, code.MaxUses, code.ExpiresAt.Format(time.RFC3339))
	return err
}
