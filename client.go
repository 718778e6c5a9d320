package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-authgate/oauthcore/internal/bootstrap"
	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/services"
	"github.com/go-authgate/oauthcore/internal/store"

	"github.com/spf13/cobra"
)

// cliActor is recorded in the audit log for changes made from the CLI.
const cliActor = "cli"

func newClientCommand() *cobra.Command {
	clientCmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered OAuth clients",
	}

	clientCmd.AddCommand(newClientCreateCommand())
	clientCmd.AddCommand(newClientListCommand())
	clientCmd.AddCommand(newClientRotateSecretCommand())
	clientCmd.AddCommand(newClientRevokeCommand())
	return clientCmd
}

func newClientCreateCommand() *cobra.Command {
	var (
		name         string
		description  string
		clientType   string
		redirectURIs []string
		scopes       []string
		orgID        string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a client and print its credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *bootstrap.Application) error {
				created, err := app.ClientService.CreateClient(ctx, services.CreateClientRequest{
					Name:           name,
					Description:    description,
					ClientType:     models.ClientType(clientType),
					RedirectURIs:   redirectURIs,
					Scopes:         scopes,
					OrganizationID: orgID,
					CreatedBy:      cliActor,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				printClient(out, created.Client)
				if created.ClientSecret != "" {
					fmt.Fprintf(out, "client_secret: %s\n", created.ClientSecret)
					fmt.Fprintln(out, "The secret is shown only once. Store it now.")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (required)")
	cmd.Flags().StringVar(&description, "description", "", "Description shown on the consent page")
	cmd.Flags().StringVar(&clientType, "type", string(models.ClientTypeConfidential), "confidential|public")
	cmd.Flags().StringSliceVar(&redirectURIs, "redirect-uri", nil, "Allowed redirect URI (repeatable)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Allowed scope (repeatable)")
	cmd.Flags().StringVar(&orgID, "org", "", "Owning organization ID")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newClientListCommand() *cobra.Command {
	var (
		page     int
		pageSize int
		search   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *bootstrap.Application) error {
				clients, pagination, err := app.ClientService.ListClients(
					ctx,
					store.NewPaginationParams(page, pageSize, search),
				)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for i := range clients {
					printClient(out, &clients[i])
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "page %d of %d (%d clients)\n",
					pagination.CurrentPage, pagination.TotalPages, pagination.Total)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 10, "Clients per page (max 50)")
	cmd.Flags().StringVar(&search, "search", "", "Filter by name or client ID")
	return cmd
}

func newClientRotateSecretCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-secret <client-id>",
		Short: "Issue a new secret for a confidential client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *bootstrap.Application) error {
				rotated, err := app.ClientService.RotateSecret(ctx, args[0], cliActor)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "client_id:     %s\n", rotated.Client.ClientID)
				fmt.Fprintf(out, "client_secret: %s\n", rotated.ClientSecret)
				return nil
			})
		},
	}
}

func newClientRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <client-id>",
		Short: "Revoke a client and every token issued to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *bootstrap.Application) error {
				revocation, err := app.ClientService.RevokeClient(ctx, args[0], cliActor)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"revoked %s (%d access tokens, %d refresh tokens)\n",
					args[0], revocation.AccessTokens, revocation.RefreshTokens)
				return nil
			})
		},
	}
}

func printClient(w io.Writer, client *models.OAuthClient) {
	status := "active"
	if !client.IsUsable() {
		status = "revoked"
	}
	fmt.Fprintf(w, "client_id:     %s\n", client.ClientID)
	fmt.Fprintf(w, "name:          %s\n", client.Name)
	fmt.Fprintf(w, "type:          %s\n", client.ClientType)
	fmt.Fprintf(w, "status:        %s\n", status)
	fmt.Fprintf(w, "redirect_uris: %s\n", strings.Join(client.RedirectURIs, ", "))
	fmt.Fprintf(w, "scopes:        %s\n", strings.Join(client.Scopes, " "))
}
