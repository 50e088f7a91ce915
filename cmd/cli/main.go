// Command kk is a CLI client for the board service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/kanban-keeper/internal/client"
	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/optimistic"
)

// ---- token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "kanban-keeper")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "kanban-keeper")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// tokenSubject reads the user id from a token without verifying it; the server
// verifies on every request.
func tokenSubject(tok string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// ---- root ----

var (
	version   = "dev"
	buildDate = "unknown"
)

type rootOptions struct {
	Addr    string
	Timeout time.Duration
	JSON    bool
}

func (o *rootOptions) api(authenticated bool) (*client.API, error) {
	var opts []client.Option
	if authenticated {
		tok, err := loadToken()
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithToken(tok))
	}
	return client.NewAPI(o.Addr, opts...)
}

func (o *rootOptions) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.Timeout)
}

// session loads boardID into a fresh optimistic session.
func (o *rootOptions) session(ctx context.Context, boardID string) (*client.Session, error) {
	id, err := uuid.FromString(boardID)
	if err != nil {
		return nil, fmt.Errorf("board id: %w", err)
	}
	api, err := o.api(true)
	if err != nil {
		return nil, err
	}
	s := client.NewSession(api, optimistic.New(), id, nil)
	if _, err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "kk",
		Short:         "Collaborative board client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", "http://localhost:8080", "server base URL")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print raw JSON")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the client version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "kk %s (%s)\n", version, buildDate)
			},
		},
		newRegisterCommand(opts),
		newLoginCommand(opts),
		newWhoamiCommand(),
		newBoardCommand(opts),
		newColumnCommand(opts),
		newCardCommand(opts),
	)
	return cmd
}

func newRegisterCommand(opts *rootOptions) *cobra.Command {
	var user, pass string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := opts.api(false)
			if err != nil {
				return err
			}
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			id, err := api.Register(ctx, user, pass)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "username", "u", "", "username")
	cmd.Flags().StringVarP(&pass, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCommand(opts *rootOptions) *cobra.Command {
	var user, pass string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := opts.api(false)
			if err != nil {
				return err
			}
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			sess, err := api.Login(ctx, user, pass)
			if err != nil {
				return err
			}
			if err := saveToken(sess.AccessToken, sess.ExpiresAt); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "logged in as %s", sess.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "username", "u", "", "username")
	cmd.Flags().StringVarP(&pass, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the user id of the saved token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := loadToken()
			if err != nil {
				return err
			}
			sub, err := tokenSubject(tok)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sub)
			return nil
		},
	}
}

func newBoardCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "board", Short: "Boards"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List visible boards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := opts.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			bs, err := api.Boards(ctx)
			if err != nil {
				return err
			}
			if opts.JSON {
				printJSON(cmd.OutOrStdout(), bs)
				return nil
			}
			for _, b := range bs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", b.ID, b.Title)
			}
			return nil
		},
	})

	var (
		theme  string
		public bool
	)
	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			b, err := api.CreateBoard(ctx, model.NewBoard{Title: args[0], Theme: model.Theme(theme), IsPublic: public})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), b.ID)
			return nil
		},
	}
	create.Flags().StringVar(&theme, "theme", string(model.ThemeLight), "light or dark")
	create.Flags().BoolVar(&public, "public", false, "readable by anyone")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <board-id>",
		Short: "Print a board with its columns and cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.FromString(args[0])
			if err != nil {
				return fmt.Errorf("board id: %w", err)
			}
			api, err := opts.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			v, err := api.Board(ctx, id)
			if err != nil {
				return err
			}
			if opts.JSON {
				printJSON(cmd.OutOrStdout(), v)
				return nil
			}
			renderBoard(cmd.OutOrStdout(), v)
			return nil
		},
	})
	return cmd
}

// ---- main ----

// main runs the command tree and prints failures with their error code.
func main() {
	if err := newRootCommand().Execute(); err != nil {
		fail(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed, color.Bold)
)

func success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ "+format+"\n", a...)
}

// fail prints err; domain errors get their code and field issues.
func fail(w io.Writer, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		red.Fprintf(w, "error: %v\n", err)
		return
	}
	red.Fprintf(w, "%s: %s\n", e.Kind.Code(), e.Message)
	for _, is := range e.Issues {
		fmt.Fprintf(w, "  %s: %s\n", is.Path, is.Message)
	}
	if e.Kind.Retryable() {
		fmt.Fprintln(w, "  the board changed concurrently; run the command again")
	}
}
