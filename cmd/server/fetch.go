package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"webauth-backend/internal/fetch"

	"github.com/spf13/cobra"
)

var (
	fetchServer    string
	fetchProvider  string
	fetchPrincipal string
	fetchPassword  string
)

// fetchCmd logs in against a running server and fetches a URL with the
// session, refreshing it on a 401.
var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch a URL with an authenticated session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		session, err := fetch.NewRemoteSession(fetchServer)
		if err != nil {
			return err
		}
		if fetchPassword == "" {
			fetchPassword = os.Getenv("WEBAUTH_PASSWORD")
		}
		result, err := session.Login(ctx, map[string]any{
			"provider":  fetchProvider,
			"principal": fetchPrincipal,
			"password":  fetchPassword,
		})
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if result.Tokens == nil {
			return fmt.Errorf("provider %q needs a browser login: %s", fetchProvider, result.URL)
		}

		client := fetch.NewClient(session, *result.Tokens, fetch.Options{Logger: logger})
		resp, err := client.Get(ctx, args[0])
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		logger.Info("fetched", "url", args[0], "status", resp.StatusCode, "state", client.State().String())
		if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
			return err
		}

		if user, err := session.User(ctx); err == nil && user != nil {
			enc := json.NewEncoder(cmd.ErrOrStderr())
			enc.SetIndent("", "  ")
			enc.Encode(user)
		}
		return session.Logout(ctx)
	},
}

func init() {
	flags := fetchCmd.Flags()
	flags.StringVar(&fetchServer, "server", "http://localhost:52538", "base URL of the auth server")
	flags.StringVar(&fetchProvider, "provider", "local", "password provider key")
	flags.StringVarP(&fetchPrincipal, "user", "u", "", "principal")
	flags.StringVarP(&fetchPassword, "password", "p", "", "password (default $WEBAUTH_PASSWORD)")
}
