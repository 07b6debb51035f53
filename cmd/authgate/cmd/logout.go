package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/terraconstructs/authgate/internal/auth"
	"github.com/terraconstructs/authgate/internal/services/authn"
)

var (
	logoutGatewayURL string
	logoutUser       string
	logoutToken      string
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Invalidate sessions on a running gateway",
	Long: `Calls the j_oauth_remote_logout endpoint of a running gateway. Without
--user every session is invalidated. The caller authenticates with --token,
or with a client-credentials token obtained from the realm token endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if logoutGatewayURL == "" {
			return errors.New("--url is required")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		var source oauth2.TokenSource
		if logoutToken != "" {
			source = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: logoutToken, TokenType: "Bearer"})
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := auth.NewHTTPClient(cfg.Realm.HTTPClientConfig())
			if err != nil {
				return fmt.Errorf("failed to create realm HTTP client: %w", err)
			}
			cc := &clientcredentials.Config{
				ClientID:     cfg.Realm.ClientID,
				ClientSecret: cfg.Realm.Credentials["secret"],
				TokenURL:     cfg.Realm.TokenURL,
				Scopes:       cfg.Realm.Scopes,
				AuthStyle:    oauth2.AuthStyleInParams,
			}
			source = cc.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, client))
		}

		endpoint, err := remoteLogoutURL(logoutGatewayURL, logoutUser)
		if err != nil {
			return err
		}

		if err := remoteLogout(ctx, oauth2.NewClient(ctx, source), endpoint); err != nil {
			return err
		}

		scope := "all"
		if logoutUser != "" {
			scope = "user"
		}
		logger.Info("remote logout accepted", zap.String("scope", scope), zap.String("user", logoutUser))
		return nil
	},
}

// remoteLogoutURL appends the logout path, and the user parameter when set,
// to the gateway base URL.
func remoteLogoutURL(base, user string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url %q: %w", base, err)
	}
	if !strings.HasSuffix(u.Path, authn.LogoutPathSuffix) {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + authn.LogoutPathSuffix
	}
	q := u.Query()
	if user != "" {
		q.Set(authn.LogoutUserParam, user)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// remoteLogout posts to endpoint and expects 204 No Content.
func remoteLogout(ctx context.Context, client *http.Client, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("remote logout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote logout rejected: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func init() {
	logoutCmd.Flags().StringVar(&logoutGatewayURL, "url", "", "Gateway base URL, e.g. https://gateway.example.com/app")
	logoutCmd.Flags().StringVar(&logoutUser, "user", "", "Only invalidate the sessions of this user")
	logoutCmd.Flags().StringVar(&logoutToken, "token", "", "Bearer token to authenticate with instead of client credentials")

	rootCmd.AddCommand(logoutCmd)
}
