package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	model "github.com/dogwood/dashboard-client/internal/model/session"
	"github.com/dogwood/dashboard-client/internal/service/auth"
)

var (
	email    string
	password string
	username string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
		pw, err := passwordOrPrompt()
		if err != nil {
			return err
		}
		sess, err := a.auth.Login(ctx, email, pw)
		return report(sess, err)
	}),
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
		pw, err := passwordOrPrompt()
		if err != nil {
			return err
		}
		sess, err := a.auth.Register(ctx, auth.Registration{Username: username, Email: email, Password: pw})
		return report(sess, err)
	}),
}

var identityCmd = &cobra.Command{
	Use:   "identity <provider-token>",
	Short: "Sign in with a third-party identity token, registering on first use",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		sess, err := a.auth.ExchangeIdentityToken(ctx, args[0])
		return report(sess, err)
	}),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: withApp(func(_ context.Context, a *app, _ []string) error {
		if err := a.auth.Logout(); err != nil {
			return err
		}
		fmt.Println(success("Signed out."))
		return nil
	}),
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored session",
	RunE: withApp(func(_ context.Context, a *app, _ []string) error {
		sess, ok := a.auth.Current()
		if !ok {
			fmt.Println(muted("Not signed in."))
			return nil
		}
		printSession(sess)
		return nil
	}),
}

func init() {
	for _, cmd := range []*cobra.Command{loginCmd, registerCmd} {
		cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
		cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when omitted)")
		_ = cmd.MarkFlagRequired("email")
	}
	registerCmd.Flags().StringVarP(&username, "username", "u", "", "display name (defaults to the email local part)")

	rootCmd.AddCommand(loginCmd, registerCmd, identityCmd, logoutCmd, whoamiCmd)
}

func passwordOrPrompt() (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func report(sess model.Session, err error) error {
	if errors.Is(err, auth.ErrSuperseded) {
		fmt.Println(muted("A newer sign-in already completed; keeping it."))
		return nil
	}
	if err != nil {
		return describeFailure(err)
	}
	fmt.Println(success("Signed in."))
	printSession(sess)
	return nil
}

func printSession(sess model.Session) {
	fmt.Printf("%s %s\n", accent("session:"), sess.SessionID)
	if p := sess.IssuedTo; p != nil {
		if p.Name != "" {
			fmt.Printf("%s %s\n", accent("name:   "), p.Name)
		}
		if p.Email != "" {
			fmt.Printf("%s %s\n", accent("email:  "), p.Email)
		}
	}
}

func describeFailure(err error) error {
	var f *auth.Failure
	if !errors.As(err, &f) {
		return err
	}
	switch f.Reason {
	case auth.InvalidCredentials:
		return errors.New("invalid email or password")
	case auth.ValidationError:
		if f.Field != "" {
			return fmt.Errorf("%s: %s", f.Field, f.Message)
		}
		return errors.New(f.Message)
	case auth.NetworkUnavailable:
		return errors.New("cannot reach the server, check API_BASE_URL and your connection")
	default:
		return fmt.Errorf("server error: %v", f)
	}
}
