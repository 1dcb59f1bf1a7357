// Command refresh-token exchanges a CRM refresh token for a fresh token pair
// and prints it. Run it when the stored access token expires; paste the new
// values into the config.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"

	"wabridge/internal/config"
	"wabridge/internal/lib/sl"
)

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	refreshToken := flag.String("refresh", "", "current refresh token")
	flag.Parse()

	lg := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *refreshToken == "" {
		lg.Error("refresh token is required, pass -refresh")
		os.Exit(1)
	}

	conf := config.MustLoad(*configPath)

	oauthConf := &oauth2.Config{
		ClientID:     conf.Amo.ClientID,
		ClientSecret: conf.Amo.ClientSecret,
		RedirectURL:  conf.Amo.RedirectURL,
		Endpoint: oauth2.Endpoint{
			TokenURL: conf.Amo.BaseURL + "/oauth2/access_token",
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	source := oauthConf.TokenSource(ctx, &oauth2.Token{
		RefreshToken: *refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force a refresh
	})
	token, err := source.Token()
	if err != nil {
		lg.Error("token refresh failed", sl.Err(err))
		os.Exit(1)
	}

	fmt.Printf("access_token: %s\n", token.AccessToken)
	fmt.Printf("refresh_token: %s\n", token.RefreshToken)
	fmt.Printf("expires_at: %s\n", token.Expiry.Format(time.RFC3339))
}
