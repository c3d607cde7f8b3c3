// Copyright 2025 Apify Technologies s.r.o.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package authcmd manages the stored Apify API token: login verifies a
// token against the platform and saves it to the OS keyring, status
// shows who the stored token belongs to, logout removes it.
package authcmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/apify/actors-mcp-server-go/internal/apify"
	"github.com/apify/actors-mcp-server-go/internal/log"
)

const (
	keyringService = "actors-mcp-server"
	keyringKey     = "apify-token"

	verifyTimeout = 15 * time.Second
)

// StoredToken returns the token saved by auth login, or "" when none is
// stored.
func StoredToken() (string, error) {
	token, err := keyring.Get(keyringService, keyringKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

// NewCommand creates the auth command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored Apify API token",
	}
	cmd.AddCommand(newLoginCommand(), newStatusCommand(), newLogoutCommand())
	return cmd
}

func newLoginCommand() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Verify an Apify API token and store it in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv("APIFY_TOKEN")
			}
			if token == "" {
				input := huh.NewInput().
					Title("Apify API token").
					Description("Create one at https://console.apify.com/settings/integrations").
					EchoMode(huh.EchoModePassword).
					Value(&token).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("token must not be empty")
						}
						return nil
					})
				if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
					return fmt.Errorf("read token: %w", err)
				}
			}
			token = strings.TrimSpace(token)

			user, err := verifyToken(cmd.Context(), token)
			if err != nil {
				return fmt.Errorf("token rejected by the Apify API: %w", err)
			}
			if err := keyring.Set(keyringService, keyringKey, token); err != nil {
				return fmt.Errorf("store token in keyring: %w", err)
			}
			cmd.Printf("Logged in as %s (token %s).\n", user.Username, log.SanitizeAPIToken(token))
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Token to store (prompted for when omitted)")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a token is stored and whom it belongs to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := StoredToken()
			if err != nil {
				return fmt.Errorf("read keyring: %w", err)
			}
			if token == "" {
				if token = os.Getenv("APIFY_TOKEN"); token == "" {
					cmd.Println("Not logged in. Run 'actors-mcp-server auth login' or set APIFY_TOKEN.")
					return nil
				}
				cmd.Println("Using APIFY_TOKEN from the environment.")
			}

			user, err := verifyToken(cmd.Context(), token)
			if err != nil {
				cmd.Printf("Token %s is stored but the Apify API rejected it: %v\n",
					log.SanitizeAPIToken(token), err)
				return nil
			}
			cmd.Printf("Logged in as %s (token %s).\n", user.Username, log.SanitizeAPIToken(token))
			return nil
		},
	}
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := keyring.Delete(keyringService, keyringKey)
			if errors.Is(err, keyring.ErrNotFound) {
				cmd.Println("No token stored.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("remove token from keyring: %w", err)
			}
			cmd.Println("Token removed.")
			return nil
		},
	}
}

func verifyToken(ctx context.Context, token string) (*apify.User, error) {
	client, err := apify.NewClient(token)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	return client.GetMe(ctx)
}
