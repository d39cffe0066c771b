package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// SecretManager resolves database credentials that are not present in the
// plain configuration. It runs once, before the migration step opens the
// database.
type SecretManager interface {
	GetSecret(key string) (string, error)
	GetDatabaseUser() (string, error)
	GetDatabasePassword() (string, error)
}

// EnvSecretManager uses environment variables (default)
type EnvSecretManager struct{}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := "APPBOOT_" + strings.ToUpper(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envKey)
	}
	return value, nil
}

func (e *EnvSecretManager) GetDatabaseUser() (string, error) {
	return e.GetSecret("DB_USER")
}

func (e *EnvSecretManager) GetDatabasePassword() (string, error) {
	return e.GetSecret("DB_PASSWORD")
}

// VaultSecretManager retrieves secrets from HashiCorp Vault
type VaultSecretManager struct {
	config *Config
	client *api.Client
}

func NewVaultSecretManager(config *Config) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: config.Secrets.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if config.Secrets.Vault.Token != "" {
		client.SetToken(config.Secrets.Vault.Token)
	} else {
		// Try to get token from environment
		token := os.Getenv("VAULT_TOKEN")
		if token != "" {
			client.SetToken(token)
		}
	}

	return &VaultSecretManager{
		config: config,
		client: client,
	}, nil
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	path := v.config.Secrets.Vault.Path
	if path == "" {
		path = "secret/appboot"
	}

	secret, err := v.client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found at path %s", path)
	}

	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in Vault secret", key)
	}

	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}

	return strValue, nil
}

func (v *VaultSecretManager) GetDatabaseUser() (string, error) {
	return v.GetSecret("db_user")
}

func (v *VaultSecretManager) GetDatabasePassword() (string, error) {
	return v.GetSecret("db_password")
}

// AWSSecretManager retrieves secrets from AWS Secrets Manager
type AWSSecretManager struct {
	config *Config
	client *secretsmanager.SecretsManager
}

func NewAWSSecretManager(config *Config) (*AWSSecretManager, error) {
	var sess *session.Session
	var err error

	if config.Secrets.AWS.AccessKey != "" && config.Secrets.AWS.SecretKey != "" {
		sess, err = session.NewSession(&aws.Config{
			Region: aws.String(config.Secrets.AWS.Region),
			Credentials: credentials.NewStaticCredentials(
				config.Secrets.AWS.AccessKey,
				config.Secrets.AWS.SecretKey,
				"",
			),
		})
	} else {
		sess, err = session.NewSession(&aws.Config{
			Region: aws.String(config.Secrets.AWS.Region),
		})
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := secretsmanager.New(sess)
	return &AWSSecretManager{
		config: config,
		client: client,
	}, nil
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	secretID := a.config.Secrets.AWS.SecretID
	if secretID == "" {
		secretID = "appboot/secrets"
	}

	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	}

	result, err := a.client.GetSecretValue(input)
	if err != nil {
		return "", fmt.Errorf("failed to get secret from AWS: %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return "", fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}

	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in AWS secret", key)
	}

	return value, nil
}

func (a *AWSSecretManager) GetDatabaseUser() (string, error) {
	return a.GetSecret("db_user")
}

func (a *AWSSecretManager) GetDatabasePassword() (string, error) {
	return a.GetSecret("db_password")
}

// NewSecretManager creates the appropriate secret manager based on configuration
func NewSecretManager(config *Config) (SecretManager, error) {
	provider := config.Secrets.Provider
	if provider == "" {
		provider = "env" // default to environment variables
	}

	switch provider {
	case "env":
		return &EnvSecretManager{}, nil
	case "vault":
		return NewVaultSecretManager(config)
	case "aws":
		return NewAWSSecretManager(config)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", provider)
	}
}

// ResolveDatabaseCredentials fills in database credentials from the
// configured secret provider when the plain config does not carry them.
// SQLite needs no credentials, and a configured DSN is taken as complete.
func ResolveDatabaseCredentials(config *Config) error {
	if config.Database.Driver == "sqlite" || config.Database.DSN != "" {
		return nil
	}
	if config.Database.Password != "" {
		return nil
	}

	manager, err := NewSecretManager(config)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}

	password, err := manager.GetDatabasePassword()
	if err != nil {
		return fmt.Errorf("failed to resolve database password: %w", err)
	}
	config.Database.Password = password

	// A user from the secret store overrides the config-level default
	if user, err := manager.GetDatabaseUser(); err == nil && user != "" {
		config.Database.User = user
	}

	return nil
}
