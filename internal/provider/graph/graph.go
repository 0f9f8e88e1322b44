package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/smalltech/web0-mail/internal/email"
)

// requestTimeout bounds token and API requests when the caller's context
// has no deadline.
const requestTimeout = 30 * time.Second

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Sender is the mailbox the reply is sent from.
	Sender string
}

// GraphProvider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication.
type GraphProvider struct {
	sender     string
	graphURL   string
	httpClient *http.Client
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	base := &http.Client{Timeout: requestTimeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	return newWithOverrides(ctx, cfg, sendMailURL(cfg.Sender), tokenURL(cfg.TenantID))
}

// newWithOverrides creates a GraphProvider with custom endpoints. The base
// HTTP client, if any, is taken from ctx under oauth2.HTTPClient.
func newWithOverrides(ctx context.Context, cfg GraphProviderConfig, graphURL, tokenEndpoint string) *GraphProvider {
	return &GraphProvider{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: authorizedClient(ctx, credentials(cfg, tokenEndpoint)),
	}
}

func sendMailURL(sender string) string {
	return fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", sender)
}

// Send delivers msg with a single sendMail request.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Email) error {
	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Graph API request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return classifyError(resp.StatusCode, graphErrResp.Error.Code, graphErrResp.Error.Message)
	}

	return classifyError(resp.StatusCode, "", string(body))
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// sendError is an unsuccessful Graph API response.
type sendError struct {
	statusCode int
	code       string
	message    string
	permanent  bool
}

func (e *sendError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.statusCode, e.code, e.message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// Temporary reports whether the same request could succeed later.
func (e *sendError) Temporary() bool {
	return !e.permanent
}

// classifyError categorizes an HTTP error response.
func classifyError(statusCode int, code, message string) *sendError {
	err := &sendError{
		statusCode: statusCode,
		code:       code,
		message:    message,
	}

	switch {
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		err.permanent = false
	default:
		err.permanent = true
	}

	return err
}
