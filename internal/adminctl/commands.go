package adminctl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dmitrijs2005/marketplace/internal/common"
	"github.com/dmitrijs2005/marketplace/internal/cryptox"
	"github.com/dmitrijs2005/marketplace/internal/server/config"
	"github.com/dmitrijs2005/marketplace/internal/server/repositories/repomanager"
)

// Seams for tests.
var (
	openDB       = repomanager.OpenDB
	readPassword = term.ReadPassword
	stdinFd      = func() int { return int(os.Stdin.Fd()) }
	lookuper     = envconfig.OsLookuper
)

// NewRootCommand builds the marketctl command tree.
func NewRootCommand() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:           "marketctl",
		Short:         "Operator tool for the marketplace server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to DATABASE_DSN or the server default)")

	open := func(cmd *cobra.Command) (*Admin, func(), error) {
		ctx := commandContext(cmd)
		cfg, err := config.Load(ctx, nil, lookuper())
		if err != nil {
			return nil, nil, err
		}
		if dsn != "" {
			cfg.DatabaseDSN = dsn
		}
		db, err := openDB(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		params := cryptox.DefaultArgon2Params()
		params.Memory, params.Time, params.Parallelism = cfg.Argon2Memory, cfg.Argon2Time, cfg.Argon2Parallelism
		hasher, err := cryptox.NewArgon2(params)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		admin := New(db, repomanager.NewPostgresRepositoryManager(), hasher, cmd.OutOrStdout())
		return admin, func() { _ = db.Close() }, nil
	}

	cmd.AddCommand(newMigrateCommand(open))
	cmd.AddCommand(newVerifyUserCommand(open))
	cmd.AddCommand(newSetPasswordCommand(open))
	return cmd
}

type openFunc func(cmd *cobra.Command) (*Admin, func(), error)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newMigrateCommand(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			admin, closeDB, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeDB()
			return admin.Migrate(commandContext(cmd))
		},
	}
}

func newVerifyUserCommand(open openFunc) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "verify-user",
		Short: "Mark an account's email as verified",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			admin, closeDB, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeDB()
			return admin.VerifyUser(commandContext(cmd), email)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSetPasswordCommand(open openFunc) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Set a new password for an account (prompts twice)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := promptNewPassword(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			admin, closeDB, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeDB()
			return admin.SetPassword(commandContext(cmd), email, password)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// promptNewPassword reads the password twice without echo. The raw input
// buffers are zeroed before returning.
func promptNewPassword(w io.Writer) (string, error) {
	first, err := prompt(w, "New password: ")
	defer common.WipeByteArray(first)
	if err != nil {
		return "", err
	}
	second, err := prompt(w, "Repeat password: ")
	defer common.WipeByteArray(second)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(first, second) {
		return "", ErrPasswordsMismatch
	}
	return string(first), nil
}

func prompt(w io.Writer, label string) ([]byte, error) {
	if _, err := fmt.Fprint(w, label); err != nil {
		return nil, err
	}
	pw, err := readPassword(stdinFd())
	fmt.Fprintln(w)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return pw, nil
}
