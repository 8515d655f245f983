package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"private-chat/backend/pkg/cache"
	"private-chat/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig holds configuration for the Vault client
type VaultConfig struct {
	Enabled    bool
	Address    string
	Token      string
	Namespace  string
	MountPath  string
	SecretPath string
	Timeout    time.Duration
	MaxRetries int
	CacheTTL   time.Duration
}

// VaultManager reads secrets from a Vault KVv2 mount and falls back to
// environment variables. With Vault disabled it reads the environment only.
type VaultManager struct {
	client *vault.Client
	config VaultConfig
	cache  *cache.Cache
	log    *logger.Logger
	getenv func(string) string
}

var _ Manager = (*VaultManager)(nil)

// NewVaultManager creates a new Vault manager instance
func NewVaultManager(config VaultConfig, log *logger.Logger) (*VaultManager, error) {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if config.MountPath == "" {
		config.MountPath = "secret"
	}
	if config.SecretPath == "" {
		config.SecretPath = "private-chat"
	}

	m := &VaultManager{
		config: config,
		cache:  cache.New(config.CacheTTL, config.CacheTTL, 0),
		log:    log,
		getenv: os.Getenv,
	}
	if !config.Enabled {
		return m, nil
	}

	if config.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if config.Token == "" {
		return nil, ErrNoVaultToken
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = config.Address
	vaultConfig.Timeout = config.Timeout
	vaultConfig.MaxRetries = config.MaxRetries

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(config.Token)
	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
	}
	m.client = client

	return m, nil
}

// GetSecret retrieves a secret from Vault, with fallback to environment variable
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	if v, ok := m.cache.Get(key); ok {
		return v.(string), nil
	}

	if m.client == nil {
		return m.getFromEnvironment(key)
	}

	value, err := m.getFromVault(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			m.log.Warn("Secret not found in Vault, falling back to environment", "key", key)
			return m.getFromEnvironment(key)
		}
		return "", err
	}

	m.cache.Set(key, value)
	return value, nil
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func (m *VaultManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrSecretNotFound) {
			m.log.Warn("Failed to get secret, using default value", "key", key, "error", err.Error())
		}
		return defaultValue
	}
	return value
}

// Close releases the secret cache
func (m *VaultManager) Close() {
	m.cache.Close()
}

func (m *VaultManager) getFromVault(ctx context.Context, key string) (string, error) {
	secret, err := m.client.KVv2(m.config.MountPath).Get(ctx, m.config.SecretPath)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", ErrSecretNotFound
		}
		m.log.Error("Failed to read secret from Vault", "path", m.config.SecretPath, "error", err.Error())
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	value, ok := secret.Data[key].(string)
	if !ok || value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// getFromEnvironment maps jwt-secret or jwt.secret to JWT_SECRET
func (m *VaultManager) getFromEnvironment(key string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))

	value := m.getenv(envKey)
	if value == "" {
		return "", ErrSecretNotFound
	}
	m.cache.Set(key, value)
	return value, nil
}
