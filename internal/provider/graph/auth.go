package graph

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// graphScope requests the application permissions granted to the app
// registration.
const graphScope = "https://graph.microsoft.com/.default"

// tokenURL returns the Azure AD v2 token endpoint for a tenant.
func tokenURL(tenantID string) string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID)
}

// credentials returns the client credentials grant for the app
// registration. Credentials are sent in the form body, which is what Azure
// AD expects.
func credentials(cfg GraphProviderConfig, endpoint string) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     endpoint,
		Scopes:       []string{graphScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}

// authorizedClient returns an HTTP client that attaches a bearer token to
// every request. Tokens are cached and refreshed shortly before they expire.
// A base client for both the token endpoint and the API can be supplied in
// ctx under oauth2.HTTPClient.
func authorizedClient(ctx context.Context, cc *clientcredentials.Config) *http.Client {
	return cc.Client(ctx)
}
