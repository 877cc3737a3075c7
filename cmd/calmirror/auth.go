package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beekhof/calmirror/internal/auth"
	"github.com/beekhof/calmirror/internal/config"
)

// authenticator builds the Authenticator for this run. Consent prompts go to
// the command's stdout.
func (a *app) authenticator(cmd *cobra.Command) *auth.Authenticator {
	consent := &auth.LoopbackConsent{
		Addr: a.cfg.CallbackAddr,
		Out:  cmd.OutOrStdout(),
	}
	if a.cfg.BrowserEnabled() {
		consent.OpenURL = auth.OpenBrowser
	}
	return auth.NewAuthenticator(a.cfg, consent, a.logger)
}

func newAuthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "auth {src|dst}",
		Short:     "Authorize the source or destination account",
		ValidArgs: []string{string(config.ProfileSource), string(config.ProfileDestination)},
		Long: `Obtain a credential for one profile and cache it in token_<target>.json.

A cached token that is still valid is reused as is and an expired one is
refreshed. Otherwise the consent page is opened and the redirect is received
on a local loopback listener.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := config.ParseProfile(args[0])
			if err != nil {
				return &usageError{msg: err.Error()}
			}

			if _, err := a.authenticator(cmd).Authenticate(cmd.Context(), profile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Authenticated %s; token stored in %s\n", profile, a.cfg.TokenPath(profile))
			return nil
		},
	}
}
