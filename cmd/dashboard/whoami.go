package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var errNotLoggedIn = errors.New("not logged in")

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Validate the stored session and print the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			s.ctrl.CheckAuth(ctx)
			snap := s.ctrl.Snapshot()
			if !snap.Authenticated() {
				return errNotLoggedIn
			}

			out := cmd.OutOrStdout()
			id := snap.Identity
			fmt.Fprintf(out, "user:     %s\n", id.Username)
			if id.DisplayName != "" {
				fmt.Fprintf(out, "name:     %s\n", id.DisplayName)
			}
			if id.Email != "" {
				fmt.Fprintf(out, "email:    %s\n", id.Email)
			}
			fmt.Fprintf(out, "role:     %s\n", id.Role)
			if id.Language != "" {
				fmt.Fprintf(out, "language: %s\n", id.Language)
			}
			if snap.Credential != nil {
				fmt.Fprintf(out, "expires:  %s\n", snap.Credential.ExpiresAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
}
