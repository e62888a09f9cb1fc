package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

func newLoginCommand(a *app) *cobra.Command {
	var (
		username string
		remember bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session credential",
		Long: `Sign in with a username or email. The password is read from the terminal
without echo, or from the first line of stdin when it is not a terminal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}

			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			id, err := s.ctrl.Login(ctx, username, password, remember)
			if errors.Is(err, domain.ErrInvalidCredentials) {
				return errors.New("invalid username or password")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", id.Username, id.Role)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username or email")
	cmd.Flags().BoolVar(&remember, "remember", false, "request a long-lived session")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		return string(b), err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
