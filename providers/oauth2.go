package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
)

const defaultTokenRequestTimeout = 30 * time.Second

// OAuth2Config describes one provider's token endpoint behavior. The two
// knobs that actually vary across wearable vendors are where the client
// secret travels (Basic auth header vs form body) and whether refresh
// responses rotate the refresh token, which callers observe through the
// returned TokenSet.
type OAuth2Config struct {
	Source             core.SourceType
	AuthURL            string
	TokenURL           string
	RevokeURL          string
	ClientID           string
	ClientSecret       string
	ClientSecretInBody bool
	// ExtraTokenParams is sent with every token-endpoint call. Withings
	// multiplexes its endpoint on an action parameter.
	ExtraTokenParams    map[string]string
	DefaultScopes       []string
	TokenTTL            time.Duration
	TokenRequestTimeout time.Duration
	Now                 func() time.Time
	HTTPClient          HTTPDoer
}

// OAuth2Client drives the authorization-code and refresh-token grants for a
// single provider.
type OAuth2Client struct {
	cfg        OAuth2Config
	httpClient HTTPDoer
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

func NewOAuth2Client(cfg OAuth2Config) (*OAuth2Client, error) {
	if err := cfg.Source.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return nil, fmt.Errorf("providers: auth url is required for %q", cfg.Source)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("providers: token url is required for %q", cfg.Source)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("providers: client id is required for %q", cfg.Source)
	}

	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.RevokeURL = strings.TrimSpace(cfg.RevokeURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.DefaultScopes = normalizeScopes(cfg.DefaultScopes)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}

	return &OAuth2Client{cfg: cfg, httpClient: httpClient}, nil
}

func (c *OAuth2Client) Source() core.SourceType {
	if c == nil {
		return ""
	}
	return c.cfg.Source
}

// AuthCodeURL builds the consent URL the user is redirected to.
func (c *OAuth2Client) AuthCodeURL(state, redirectURI string, scopes []string) string {
	if c == nil {
		return ""
	}
	requested := normalizeScopes(scopes)
	if len(requested) == 0 {
		requested = append([]string(nil), c.cfg.DefaultScopes...)
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", c.cfg.ClientID)
	if strings.TrimSpace(redirectURI) != "" {
		values.Set("redirect_uri", strings.TrimSpace(redirectURI))
	}
	values.Set("scope", strings.Join(requested, " "))
	values.Set("state", strings.TrimSpace(state))

	authURL := c.cfg.AuthURL
	if strings.Contains(authURL, "?") {
		return authURL + "&" + values.Encode()
	}
	return authURL + "?" + values.Encode()
}

// ExchangeCode trades an authorization code for the initial token set.
func (c *OAuth2Client) ExchangeCode(ctx context.Context, code, redirectURI string) (core.TokenSet, error) {
	if c == nil {
		return core.TokenSet{}, fmt.Errorf("providers: oauth2 client is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenSet{}, fmt.Errorf("providers: auth code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if redirectURI := strings.TrimSpace(redirectURI); redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	payload, err := c.fetchToken(ctx, form)
	if err != nil {
		return core.TokenSet{}, err
	}
	return c.toTokenSet(payload), nil
}

// Refresh exchanges a refresh token for fresh credentials. The returned
// RefreshToken is empty when the provider keeps the old one valid.
func (c *OAuth2Client) Refresh(ctx context.Context, refreshToken string) (core.TokenSet, error) {
	if c == nil {
		return core.TokenSet{}, fmt.Errorf("providers: oauth2 client is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenSet{}, core.NewAuthError(
			fmt.Sprintf("%s has no refresh token on file", c.cfg.Source),
			c.cfg.Source,
		)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	payload, err := c.fetchToken(ctx, form)
	if err != nil {
		return core.TokenSet{}, err
	}
	return c.toTokenSet(payload), nil
}

// Revoke invalidates the token at the provider. A missing revoke URL is a
// no-op since not every vendor exposes revocation.
func (c *OAuth2Client) Revoke(ctx context.Context, token string) error {
	if c == nil {
		return fmt.Errorf("providers: oauth2 client is nil")
	}
	if c.cfg.RevokeURL == "" {
		return nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	form := url.Values{}
	form.Set("token", token)
	if c.cfg.ClientSecretInBody {
		form.Set("client_id", c.cfg.ClientID)
		if c.cfg.ClientSecret != "" {
			form.Set("client_secret", c.cfg.ClientSecret)
		}
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.TokenRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if !c.cfg.ClientSecretInBody && c.cfg.ClientSecret != "" {
		req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return core.NewProviderError(fmt.Sprintf("%s revoke failed: %v", c.cfg.Source, err), c.cfg.Source)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBodyBytes))

	if res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	return core.NewProviderError(
		fmt.Sprintf("%s revoke returned status %d", c.cfg.Source, res.StatusCode),
		c.cfg.Source,
	)
}

func (c *OAuth2Client) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, error) {
	if c.httpClient == nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: oauth2 http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", c.cfg.ClientID)
	if c.cfg.ClientSecretInBody && c.cfg.ClientSecret != "" {
		values.Set("client_secret", c.cfg.ClientSecret)
	}
	for key, value := range c.cfg.ExtraTokenParams {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		values.Set(key, value)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.TokenRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		c.cfg.TokenURL,
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if !c.cfg.ClientSecretInBody && c.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	}

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return tokenEndpointPayload{}, core.NewProviderError(
			fmt.Sprintf("%s token request failed: %v", c.cfg.Source, err),
			c.cfg.Source,
		)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes+1))
	if readErr != nil {
		return tokenEndpointPayload{}, core.NewProviderError(
			fmt.Sprintf("%s read token response: %v", c.cfg.Source, readErr),
			c.cfg.Source,
		)
	}
	if int64(len(body)) > maxResponseBodyBytes {
		return tokenEndpointPayload{}, core.NewProviderError(
			fmt.Sprintf("%s token response exceeds %d bytes", c.cfg.Source, maxResponseBodyBytes),
			c.cfg.Source,
		)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if parseErr != nil {
		return tokenEndpointPayload{}, core.NewProviderError(
			fmt.Sprintf("%s decode token response: %v", c.cfg.Source, parseErr),
			c.cfg.Source,
		)
	}
	if response.StatusCode == http.StatusUnauthorized || (response.StatusCode == http.StatusBadRequest && isInvalidGrant(payload)) {
		return tokenEndpointPayload{}, core.NewAuthError(
			fmt.Sprintf("%s token endpoint rejected the grant: %s", c.cfg.Source, describeTokenError(payload)),
			c.cfg.Source,
		)
	}
	if response.StatusCode == http.StatusTooManyRequests {
		return tokenEndpointPayload{}, core.NewRateLimitError(
			fmt.Sprintf("%s token endpoint throttled", c.cfg.Source),
			c.cfg.Source,
			RetryAfterFromHeader(response.Header, c.cfg.Now()),
		)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return tokenEndpointPayload{}, core.NewProviderError(
			fmt.Sprintf("%s token endpoint error (%d): %s", c.cfg.Source, response.StatusCode, describeTokenError(payload)),
			c.cfg.Source,
		)
	}
	if payload.ErrorCode != "" {
		return tokenEndpointPayload{}, core.NewProviderError(
			fmt.Sprintf("%s token endpoint error: %s", c.cfg.Source, describeTokenError(payload)),
			c.cfg.Source,
		)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenEndpointPayload{}, core.NewProviderError(
			fmt.Sprintf("%s token endpoint response missing access token", c.cfg.Source),
			c.cfg.Source,
		)
	}
	return payload, nil
}

func (c *OAuth2Client) toTokenSet(payload tokenEndpointPayload) core.TokenSet {
	now := c.cfg.Now().UTC()
	return core.TokenSet{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
		ExpiresAt:    c.resolveExpiresAt(now, payload.ExpiresIn),
		Scopes:       parseScopeList(payload.Scope),
	}
}

func (c *OAuth2Client) resolveExpiresAt(now time.Time, expiresIn int64) *time.Time {
	ttl := c.cfg.TokenTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}
	if ttl <= 0 {
		return nil
	}
	expiresAt := now.Add(ttl)
	return &expiresAt
}

func isInvalidGrant(payload tokenEndpointPayload) bool {
	code := strings.ToLower(strings.TrimSpace(payload.ErrorCode))
	return code == "invalid_grant" || code == "invalid_token" || code == "expired_token"
}

func describeTokenError(payload tokenEndpointPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	// Withings wraps the OAuth payload in a body envelope with an in-band
	// status code.
	if nested, ok := decoded["body"].(map[string]any); ok {
		if status := readAnyInt64(decoded["status"]); status != 0 {
			return tokenEndpointPayload{
				ErrorCode:        strconv.FormatInt(status, 10),
				ErrorDescription: readAnyString(decoded["error"]),
			}, nil
		}
		decoded = nested
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func parseScopeList(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return []string{}
	}
	return strings.Fields(strings.ReplaceAll(trimmed, ",", " "))
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(strings.ToLower(value))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	sort.Strings(values)
	return values
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}
