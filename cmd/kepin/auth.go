package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func registerCmd() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = readPassword(); err != nil {
					return err
				}
			}
			user, err := a.client.Register(cmd.Context(), name, email, password)
			if err != nil {
				return err
			}
			fmt.Println(SuccessStyle.Render("Account created for " + user.Email + ". Run 'kepin login' to sign in."))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = readPassword(); err != nil {
					return err
				}
			}
			user, err := a.client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if a.client.SessionID() == "" {
				return errors.New("server did not return a session")
			}
			if err := a.persistSession(); err != nil {
				return err
			}
			a.identity.Reset()
			fmt.Println(SuccessStyle.Render("Logged in as " + user.Name + " <" + user.Email + ">"))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if a.client.SessionID() != "" {
				if err := a.client.Logout(cmd.Context()); err != nil {
					fmt.Fprintln(os.Stderr, WarningStyle.Render("Server logout failed: "+err.Error()))
				}
			}
			if err := saveSession(a.sessionPath, ""); err != nil {
				return err
			}
			a.identity.Reset()
			fmt.Println(InfoStyle.Render("Logged out."))
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			user, err := a.requireUser(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", TitleStyle.Render(user.Name), SubtleStyle.Render("<"+user.Email+">"))
			fmt.Printf("id:     %s\navatar: %s\n", user.ID, user.Avatar)
			return nil
		},
	}
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
