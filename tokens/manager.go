// Package tokens manages the OAuth credential lifecycle: connect flows,
// encrypted storage, near-expiry refresh, and disconnect revocation.
package tokens

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-wearables/core"
)

// OAuthFlow is the authorization-code surface of one provider's OAuth
// client.
type OAuthFlow interface {
	AuthCodeURL(state, redirectURI string, scopes []string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (core.TokenSet, error)
}

type Option func(*Manager)

// Manager issues valid access tokens for connected sources, refreshing and
// persisting credentials as providers rotate them.
type Manager struct {
	sources  core.SourceStore
	secrets  core.SecretProvider
	registry core.Registry
	states   core.OAuthStateStore
	flows    map[core.SourceType]OAuthFlow
	cfg      core.TokenConfig
	logger   core.Logger
	Now      func() time.Time

	mu       sync.Mutex
	inflight map[string]*refreshCall
}

type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

func WithLogger(logger core.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.Now = now
		}
	}
}

func WithOAuthFlow(source core.SourceType, flow OAuthFlow) Option {
	return func(m *Manager) {
		if flow != nil {
			m.flows[source] = flow
		}
	}
}

func NewManager(
	sources core.SourceStore,
	secrets core.SecretProvider,
	registry core.Registry,
	states core.OAuthStateStore,
	cfg core.TokenConfig,
	opts ...Option,
) (*Manager, error) {
	if sources == nil {
		return nil, fmt.Errorf("tokens: source store is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("tokens: secret provider is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tokens: adapter registry is required")
	}
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = 5 * time.Minute
	}
	if cfg.OAuthStateTTL <= 0 {
		cfg.OAuthStateTTL = 15 * time.Minute
	}

	manager := &Manager{
		sources:  sources,
		secrets:  secrets,
		registry: registry,
		states:   states,
		flows:    map[core.SourceType]OAuthFlow{},
		cfg:      cfg,
		Now:      func() time.Time { return time.Now().UTC() },
		inflight: map[string]*refreshCall{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(manager)
	}
	return manager, nil
}

// BeginConnect starts the authorization-code flow: generates and stores a
// single-use CSRF state, then returns the provider consent URL.
func (m *Manager) BeginConnect(ctx context.Context, customerID string, source core.SourceType, redirectURI string, scopes []string) (string, error) {
	if m == nil {
		return "", fmt.Errorf("tokens: manager is nil")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", core.NewValidationError("customer id is required")
	}
	if err := source.Validate(); err != nil {
		return "", err
	}
	if source.Native() {
		return "", core.NewValidationError(fmt.Sprintf("%s connects through device registration, not oauth", source))
	}
	flow, ok := m.flows[source]
	if !ok {
		return "", core.NewProviderError(fmt.Sprintf("no oauth flow registered for %s", source), source)
	}
	if m.states == nil {
		return "", fmt.Errorf("tokens: oauth state store is required for connect flows")
	}

	state, err := core.GenerateOAuthState()
	if err != nil {
		return "", err
	}
	now := m.now()
	record := core.OAuthStateRecord{
		State:       state,
		SourceType:  source,
		CustomerID:  customerID,
		RedirectURI: strings.TrimSpace(redirectURI),
		Scopes:      append([]string(nil), scopes...),
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.OAuthStateTTL),
	}
	if err := m.states.Save(ctx, record); err != nil {
		return "", err
	}
	return flow.AuthCodeURL(state, record.RedirectURI, record.Scopes), nil
}

// CompleteConnect finishes the flow on callback: consumes the state,
// exchanges the code, resolves the provider-side user id, and stores the
// encrypted credentials.
func (m *Manager) CompleteConnect(ctx context.Context, state, code string) (core.ConnectedSource, error) {
	if m == nil {
		return core.ConnectedSource{}, fmt.Errorf("tokens: manager is nil")
	}
	if m.states == nil {
		return core.ConnectedSource{}, fmt.Errorf("tokens: oauth state store is required for connect flows")
	}
	record, err := m.states.Consume(ctx, state)
	if err != nil {
		return core.ConnectedSource{}, err
	}
	flow, ok := m.flows[record.SourceType]
	if !ok {
		return core.ConnectedSource{}, core.NewProviderError(
			fmt.Sprintf("no oauth flow registered for %s", record.SourceType),
			record.SourceType,
		)
	}

	tokenSet, err := flow.ExchangeCode(ctx, code, record.RedirectURI)
	if err != nil {
		return core.ConnectedSource{}, err
	}

	sourceUserID := ""
	if adapter, ok := m.registry.Get(record.SourceType); ok {
		if profile, profileErr := adapter.GetUserProfile(ctx, tokenSet.AccessToken); profileErr == nil {
			sourceUserID = profile.SourceUserID
		} else {
			core.LogError(ctx, m.logger, "connect profile lookup failed", map[string]any{
				"source_type": string(record.SourceType),
				"customer_id": record.CustomerID,
				"error":       profileErr.Error(),
			})
		}
	}

	return m.StoreTokens(ctx, record.CustomerID, record.SourceType, tokenSet, sourceUserID)
}

// StoreTokens encrypts and persists a token set. The stored refresh token is
// overwritten only when the set carries one, since several providers never
// rotate it. Reconnecting a soft-deleted source clears disconnected_at.
func (m *Manager) StoreTokens(ctx context.Context, customerID string, source core.SourceType, tokenSet core.TokenSet, sourceUserID string) (core.ConnectedSource, error) {
	if m == nil {
		return core.ConnectedSource{}, fmt.Errorf("tokens: manager is nil")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return core.ConnectedSource{}, core.NewValidationError("customer id is required")
	}
	if err := source.Validate(); err != nil {
		return core.ConnectedSource{}, err
	}
	if err := tokenSet.Validate(); err != nil {
		return core.ConnectedSource{}, err
	}

	encryptedAccess, err := m.secrets.Encrypt(ctx, []byte(tokenSet.AccessToken), core.FieldContextAccessToken)
	if err != nil {
		return core.ConnectedSource{}, fmt.Errorf("tokens: encrypt access token: %w", err)
	}
	var encryptedRefresh []byte
	if strings.TrimSpace(tokenSet.RefreshToken) != "" {
		encryptedRefresh, err = m.secrets.Encrypt(ctx, []byte(tokenSet.RefreshToken), core.FieldContextRefreshToken)
		if err != nil {
			return core.ConnectedSource{}, fmt.Errorf("tokens: encrypt refresh token: %w", err)
		}
	}

	now := m.now()
	existing, err := m.sources.Get(ctx, customerID, source)
	switch {
	case err == nil:
		existing.EncryptedAccessToken = encryptedAccess
		if len(encryptedRefresh) > 0 {
			existing.EncryptedRefreshToken = encryptedRefresh
		}
		existing.TokenExpiresAt = tokenSet.ExpiresAt
		if len(tokenSet.Scopes) > 0 {
			existing.ScopesGranted = append([]string(nil), tokenSet.Scopes...)
		}
		if strings.TrimSpace(sourceUserID) != "" {
			existing.SourceUserID = strings.TrimSpace(sourceUserID)
		}
		existing.SyncEnabled = true
		existing.DisconnectedAt = nil
		existing.LastError = ""
		existing.UpdatedAt = now
		return m.sources.Update(ctx, existing)
	case err == core.ErrConnectedSourceNotFound:
		return m.sources.Upsert(ctx, core.ConnectedSource{
			ID:                    uuid.NewString(),
			CustomerID:            customerID,
			SourceType:            source,
			EncryptedAccessToken:  encryptedAccess,
			EncryptedRefreshToken: encryptedRefresh,
			TokenExpiresAt:        tokenSet.ExpiresAt,
			ScopesGranted:         append([]string(nil), tokenSet.Scopes...),
			SourceUserID:          strings.TrimSpace(sourceUserID),
			SyncEnabled:           true,
			ConnectedAt:           now,
			CreatedAt:             now,
			UpdatedAt:             now,
		})
	default:
		return core.ConnectedSource{}, err
	}
}

// GetValidToken returns a usable access token, refreshing first when the
// stored one expires within the refresh buffer. Concurrent callers for the
// same (customer, source) share one provider refresh.
func (m *Manager) GetValidToken(ctx context.Context, customerID string, source core.SourceType) (string, error) {
	if m == nil {
		return "", fmt.Errorf("tokens: manager is nil")
	}
	connected, err := m.sources.Get(ctx, strings.TrimSpace(customerID), source)
	if err != nil {
		return "", err
	}
	if connected.Disconnected() {
		return "", core.NewAuthError(fmt.Sprintf("%s is disconnected", source), source)
	}

	now := m.now()
	if connected.TokenExpiresAt == nil || connected.TokenExpiresAt.After(now.Add(m.cfg.RefreshBuffer)) {
		plaintext, err := m.secrets.Decrypt(ctx, connected.EncryptedAccessToken, core.FieldContextAccessToken)
		if err != nil {
			return "", fmt.Errorf("tokens: decrypt access token: %w", err)
		}
		return string(plaintext), nil
	}

	// Token is expired or close to it. Without a refresh token there is
	// nothing to try, and no network call is made.
	if !connected.HasRefreshToken() {
		return "", core.NewAuthError(
			fmt.Sprintf("%s token expired and no refresh token exists, reconnect required", source),
			source,
		)
	}
	return m.refreshShared(ctx, connected)
}

func (m *Manager) refreshShared(ctx context.Context, connected core.ConnectedSource) (string, error) {
	key := connected.CustomerID + "|" + string(connected.SourceType)

	m.mu.Lock()
	if call, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	m.inflight[key] = call
	m.mu.Unlock()

	call.token, call.err = m.refresh(ctx, connected)
	close(call.done)

	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()

	return call.token, call.err
}

func (m *Manager) refresh(ctx context.Context, connected core.ConnectedSource) (string, error) {
	adapter, ok := m.registry.Get(connected.SourceType)
	if !ok {
		return "", core.NewProviderError(
			fmt.Sprintf("no adapter registered for %s", connected.SourceType),
			connected.SourceType,
		)
	}
	refresher, ok := adapter.(core.TokenRefresher)
	if !ok {
		return "", core.NewAuthError(
			fmt.Sprintf("%s cannot refresh tokens, reconnect required", connected.SourceType),
			connected.SourceType,
		)
	}

	refreshPlain, err := m.secrets.Decrypt(ctx, connected.EncryptedRefreshToken, core.FieldContextRefreshToken)
	if err != nil {
		return "", fmt.Errorf("tokens: decrypt refresh token: %w", err)
	}

	tokenSet, err := refresher.RefreshToken(ctx, string(refreshPlain))
	if err != nil {
		m.recordRefreshFailure(ctx, connected, err)
		return "", err
	}

	if _, err := m.StoreTokens(ctx, connected.CustomerID, connected.SourceType, tokenSet, connected.SourceUserID); err != nil {
		return "", err
	}
	core.LogInfo(ctx, m.logger, "token refreshed", map[string]any{
		"source_type": string(connected.SourceType),
		"customer_id": connected.CustomerID,
		"rotated":     strings.TrimSpace(tokenSet.RefreshToken) != "",
	})
	return tokenSet.AccessToken, nil
}

func (m *Manager) recordRefreshFailure(ctx context.Context, connected core.ConnectedSource, cause error) {
	connected.LastError = cause.Error()
	connected.UpdatedAt = m.now()
	if _, err := m.sources.Update(ctx, connected); err != nil {
		core.LogError(ctx, m.logger, "record refresh failure", map[string]any{
			"source_type": string(connected.SourceType),
			"customer_id": connected.CustomerID,
			"error":       err.Error(),
		})
	}
}

// Disconnect revokes credentials best effort, then soft deletes the source.
// Calling it again for an already disconnected source is a no-op.
func (m *Manager) Disconnect(ctx context.Context, customerID string, source core.SourceType) error {
	if m == nil {
		return fmt.Errorf("tokens: manager is nil")
	}
	customerID = strings.TrimSpace(customerID)
	connected, err := m.sources.Get(ctx, customerID, source)
	if err == core.ErrConnectedSourceNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if connected.Disconnected() {
		return nil
	}

	if adapter, ok := m.registry.Get(source); ok {
		if revoker, ok := adapter.(core.TokenRevoker); ok {
			accessToken, refreshToken := m.decryptForRevoke(ctx, connected)
			if revokeErr := revoker.RevokeToken(ctx, accessToken, refreshToken); revokeErr != nil {
				core.LogError(ctx, m.logger, "revoke failed, proceeding with disconnect", map[string]any{
					"source_type": string(source),
					"customer_id": customerID,
					"error":       revokeErr.Error(),
				})
			}
		}
	}

	return m.sources.Disconnect(ctx, customerID, source, m.now())
}

func (m *Manager) decryptForRevoke(ctx context.Context, connected core.ConnectedSource) (string, string) {
	var accessToken, refreshToken string
	if len(connected.EncryptedAccessToken) > 0 {
		if plain, err := m.secrets.Decrypt(ctx, connected.EncryptedAccessToken, core.FieldContextAccessToken); err == nil {
			accessToken = string(plain)
		}
	}
	if len(connected.EncryptedRefreshToken) > 0 {
		if plain, err := m.secrets.Decrypt(ctx, connected.EncryptedRefreshToken, core.FieldContextRefreshToken); err == nil {
			refreshToken = string(plain)
		}
	}
	return accessToken, refreshToken
}

// SetPrimarySource flags one provider as the customer's primary source,
// clearing the flag everywhere else.
func (m *Manager) SetPrimarySource(ctx context.Context, customerID string, source core.SourceType) error {
	if m == nil {
		return fmt.Errorf("tokens: manager is nil")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return core.NewValidationError("customer id is required")
	}
	if err := source.Validate(); err != nil {
		return err
	}
	if _, err := m.sources.Get(ctx, customerID, source); err != nil {
		return err
	}
	return m.sources.SetPrimary(ctx, customerID, source)
}

// SweepOAuthStates drops expired CSRF states; wired to a background job.
func (m *Manager) SweepOAuthStates(ctx context.Context) (int, error) {
	if m == nil || m.states == nil {
		return 0, nil
	}
	return m.states.Sweep(ctx, m.now())
}

func (m *Manager) now() time.Time {
	if m != nil && m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}
