package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/feedcast/credentials"
	"github.com/hazyhaar/feedcast/idgen"
	"github.com/hazyhaar/feedcast/oauth"
	"github.com/hazyhaar/feedcast/platform"
	"github.com/hazyhaar/feedcast/tokencheck"
	"github.com/hazyhaar/feedcast/tokenstore"
)

// newState generates the OAuth state sent with the dialog URL.
var newState = idgen.NanoID(16)

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "auth <facebook|instagram>",
		Short:     "Authorize the app and store a token bundle for a platform",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"facebook", "instagram"},
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			p, err := platform.Parse(args[0])
			if err != nil {
				return err
			}
			oc, err := a.requireOAuth()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			state := newState()
			printf(out, "Open this URL in a browser and authorize the app:\n\n  %s\n\n", oc.AuthURL(p, state))
			printf(out, "Paste the URL you were redirected to: ")
			line, err := readLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			code, err := oauth.CodeFromRedirect(line, state)
			if err != nil {
				return err
			}

			tok, upgraded, err := oc.ExchangeAndUpgrade(ctx, code, a.creds.RedirectURIFor(p))
			if err != nil {
				return fmt.Errorf("code exchange: %w", err)
			}
			if !upgraded {
				printf(out, "\nWarning: keeping the short-lived token (long-lived upgrade failed)\n")
			}

			b, res := a.resolver().BundleFor(ctx, p, tok.AccessToken)
			if err := a.tokens.Save(b, p.String()); err != nil {
				return err
			}
			path, _ := a.tokens.Path(p.String())
			printf(out, "\nSaved %s tokens to %s\n", p, path)
			printf(out, "  resolved via: %s\n", res.Source)
			printf(out, "  page id:      %s\n", orNone(b.PageID))
			if p == platform.Instagram {
				printf(out, "  instagram id: %s\n", orNone(b.SubAccountID))
			}
			if err := tokenstore.Validate(b); err != nil {
				printf(out, "  warning: %v\n", err)
			}
			return nil
		}),
	}
}

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the pages and Instagram accounts reachable with the stored user token",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			token, err := storedUserToken(a.tokens)
			if err != nil {
				return err
			}
			accts, err := a.resolver().ListAccounts(cmd.Context(), token)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(accts) == 0 {
				printf(out, "No pages found for this token.\n")
				return nil
			}
			tw := tabwriter.NewWriter(out, 1, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "PAGE ID\tPAGE\tPAGE TOKEN\tINSTAGRAM ID\tINSTAGRAM")
			for _, ac := range accts {
				hasToken := "no"
				if ac.PageAccessToken != "" {
					hasToken = "yes"
				}
				ig := ac.SubAccountUsername
				if ig != "" {
					ig = "@" + ig
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ac.PageID, ac.PageName, hasToken, orNone(ac.SubAccountID), orNone(ig))
			}
			return tw.Flush()
		}),
	}
}

// storedUserToken returns the first user token found across the platform bundles.
func storedUserToken(tokens *tokenstore.Store) (string, error) {
	for _, p := range platform.All() {
		b, err := tokens.LoadPlatform(p)
		if err == nil && b.UserAccessToken != "" {
			return b.UserAccessToken, nil
		}
	}
	return "", fmt.Errorf("no stored user token, run 'feedcast auth facebook' first: %w", tokenstore.ErrNotFound)
}

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect and refresh stored token bundles",
	}
	cmd.AddCommand(tokensStatusCmd(), tokensRefreshCmd())
	return cmd
}

func tokensStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report usability, expiry and posting permissions of each bundle",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			out := cmd.OutOrStdout()
			for _, p := range platform.All() {
				printf(out, "%s\n", p)
				b, err := a.tokens.LoadPlatform(p)
				if errors.Is(err, tokenstore.ErrNotFound) {
					printf(out, "  no bundle stored\n\n")
					continue
				}
				if err != nil {
					printf(out, "  unreadable: %v\n\n", err)
					continue
				}
				if err := tokenstore.Validate(b); err != nil {
					printf(out, "  usable:    no (%v)\n", err)
				} else {
					printf(out, "  usable:    yes\n")
				}
				printf(out, "  page id:   %s\n", orNone(b.PageID))
				printf(out, "  ig id:     %s\n", orNone(b.SubAccountID))
				if !b.IssuedAt.IsZero() {
					printf(out, "  issued:    %s\n", b.IssuedAt.Format(time.RFC3339))
				}

				token := b.UserAccessToken
				if token == "" {
					token = b.PageAccessToken
				}
				if a.oauth == nil || token == "" {
					printf(out, "  introspection skipped (no app credentials or token)\n\n")
					continue
				}
				info, err := a.oauth.Introspect(cmd.Context(), token)
				if err != nil {
					printf(out, "  introspection failed: %v\n\n", err)
					continue
				}
				exp := tokencheck.Expiry(info, time.Now())
				if info.Expires() {
					printf(out, "  expires:   %s (%.1f days)\n", exp.ExpiresAt.Format(time.RFC3339), exp.DaysLeft)
				}
				printf(out, "  advice:    %s\n", exp.Advice)
				perms := tokencheck.Permissions(info, p)
				printf(out, "  granted:   %s\n", orNone(strings.Join(perms.Granted, ", ")))
				if !perms.OK() {
					printf(out, "  missing:   %s\n", strings.Join(perms.Missing, ", "))
				}
				printf(out, "\n")
			}
			return nil
		}),
	}
}

func tokensRefreshCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "refresh <facebook|instagram>",
		Short: "Exchange the stored user token for a new long-lived token",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			p, err := platform.Parse(args[0])
			if err != nil {
				return err
			}
			oc, err := a.requireOAuth()
			if err != nil {
				return err
			}
			b, err := a.tokens.LoadPlatform(p)
			if err != nil {
				return err
			}
			if b.UserAccessToken == "" {
				return fmt.Errorf("%s bundle has no user token to refresh", p)
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			info, err := oc.Introspect(ctx, b.UserAccessToken)
			if err != nil {
				return err
			}
			exp := tokencheck.Expiry(info, time.Now())
			if !exp.CanRefresh() {
				return fmt.Errorf("token cannot be refreshed (%s), run 'feedcast auth %s'", exp.Advice, p)
			}
			printf(out, "%s token: %s\n", p, exp.Advice)
			if !yes {
				printf(out, "Refresh now? [y/N] ")
				answer, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				if ans := strings.ToLower(answer); ans != "y" && ans != "yes" {
					printf(out, "Aborted.\n")
					return nil
				}
			}

			tok, err := oc.UpgradeToLongLived(ctx, b.UserAccessToken)
			if err != nil {
				return err
			}
			nb, _ := a.resolver().BundleFor(ctx, p, tok.AccessToken)
			if err := a.tokens.Save(nb, p.String()); err != nil {
				return err
			}
			printf(out, "Refreshed %s tokens.\n", p)
			if !tok.Expiry.IsZero() {
				printf(out, "  new expiry: %s\n", tok.Expiry.Format(time.RFC3339))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Refresh without asking")
	return cmd
}

func envCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables holding the app credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return credentials.Usage(cmd.OutOrStdout())
		},
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
