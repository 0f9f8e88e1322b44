package graph

import (
	"testing"

	"golang.org/x/oauth2"
)

func TestTokenURL(t *testing.T) {
	t.Parallel()

	want := "https://login.microsoftonline.com/contoso/oauth2/v2.0/token"
	if got := tokenURL("contoso"); got != want {
		t.Errorf("tokenURL(): got %q, want %q", got, want)
	}
}

func TestCredentials(t *testing.T) {
	t.Parallel()

	cc := credentials(GraphProviderConfig{ClientID: "cid", ClientSecret: "secret"}, "https://example.com/token")

	if cc.ClientID != "cid" || cc.ClientSecret != "secret" {
		t.Errorf("client credentials: got %q/%q", cc.ClientID, cc.ClientSecret)
	}
	if cc.TokenURL != "https://example.com/token" {
		t.Errorf("TokenURL: got %q", cc.TokenURL)
	}
	if len(cc.Scopes) != 1 || cc.Scopes[0] != graphScope {
		t.Errorf("Scopes: got %v", cc.Scopes)
	}
	if cc.AuthStyle != oauth2.AuthStyleInParams {
		t.Errorf("AuthStyle: got %v, want AuthStyleInParams", cc.AuthStyle)
	}
}
