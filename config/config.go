// Package config monta a configuração do serviço: valores padrão, arquivo YAML opcional e
// variáveis de ambiente, nessa ordem. O valor resultante é injetado nos construtores.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ferreirogomes/matricula/models"

	"gopkg.in/yaml.v3"
)

const (
	LedgerMock     = "mock"
	LedgerEthereum = "ethereum"
	LedgerSolana   = "solana"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	HTTP       HTTPConfig         `yaml:"http"`
	Database   DatabaseConfig     `yaml:"database"`
	Auth       AuthConfig         `yaml:"auth"`
	Ledger     LedgerConfig       `yaml:"ledger"`
	Validators []models.Validator `yaml:"validators"`
	Notify     NotifyConfig       `yaml:"notify"`
	Log        LogConfig          `yaml:"log"`
}

type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	AllowedOrigins    []string      `yaml:"allowedOrigins"`
	AuthRatePerSecond float64       `yaml:"authRatePerSecond"`
	AuthBurst         int           `yaml:"authBurst"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	// TrustProxy aceita X-Forwarded-For/X-Real-IP como IP do cliente. Só com proxy reverso confiável.
	TrustProxy bool `yaml:"trustProxy"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwtSecret"`
	TokenTTL    time.Duration `yaml:"tokenTTL"`
	AdminSecret string        `yaml:"adminSecret"`
	NonceTTL    time.Duration `yaml:"nonceTTL"`
	SIWEDomain  string        `yaml:"siweDomain"`
	SIWEURI     string        `yaml:"siweURI"`
	ChainID     int64         `yaml:"chainID"`
}

type LedgerConfig struct {
	Mode     string         `yaml:"mode"`
	Timeout  time.Duration  `yaml:"timeout"`
	Ethereum EthereumConfig `yaml:"ethereum"`
	Solana   SolanaConfig   `yaml:"solana"`
}

type EthereumConfig struct {
	RPCURL          string `yaml:"rpcURL"`
	ContractAddress string `yaml:"contractAddress"`
	PrivateKey      string `yaml:"privateKey"`
	FromAddress     string `yaml:"fromAddress"`
	GasLimit        uint64 `yaml:"gasLimit"`
}

type SolanaConfig struct {
	RPCURL             string `yaml:"rpcURL"`
	FeePayerPrivateKey string `yaml:"feePayerPrivateKey"`
}

type NotifyConfig struct {
	Buffer     int           `yaml:"buffer"`
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default devolve uma configuração que sobe localmente sem nenhuma dependência externa.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8000",
			AllowedOrigins:    []string{"*"},
			AuthRatePerSecond: 5,
			AuthBurst:         10,
			ShutdownTimeout:   10 * time.Second,
		},
		Database: DatabaseConfig{Driver: DriverSQLite, DSN: "registro.db"},
		Auth: AuthConfig{
			JWTSecret:   "changeme",
			TokenTTL:    120 * time.Minute,
			AdminSecret: "changeme-admin",
			NonceTTL:    10 * time.Minute,
			SIWEDomain:  "localhost:3000",
			SIWEURI:     "http://localhost:3000",
			ChainID:     11155111,
		},
		Ledger: LedgerConfig{
			Mode:     LedgerMock,
			Timeout:  15 * time.Second,
			Ethereum: EthereumConfig{GasLimit: 500_000},
		},
		Validators: DefaultValidators(),
		Notify:     NotifyConfig{Buffer: 256, Timeout: 5 * time.Second},
		Log:        LogConfig{Level: "info"},
	}
}

// DefaultValidators é o pool usado quando nenhum é configurado.
func DefaultValidators() []models.Validator {
	return []models.Validator{
		{Name: "validator-1", Stake: 1000},
		{Name: "validator-2", Stake: 750},
		{Name: "validator-3", Stake: 500},
		{Name: "validator-4", Stake: 250},
	}
}

// Load lê o arquivo (se existir), aplica o ambiente e valida.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("falha ao ler configuração %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("falha ao interpretar configuração %s: %w", path, err)
		}
		if len(cfg.Validators) == 0 {
			cfg.Validators = DefaultValidators()
		}
	}

	if err := ApplyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides aplica as variáveis de ambiente conhecidas. lookup segue a assinatura de os.LookupEnv.
func ApplyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("DATABASE_URL", &cfg.Database.DSN)
	if strings.HasPrefix(cfg.Database.DSN, "postgres://") || strings.HasPrefix(cfg.Database.DSN, "postgresql://") {
		cfg.Database.Driver = DriverPostgres
	}
	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("ADMIN_SECRET", &cfg.Auth.AdminSecret)
	str("SIWE_DOMAIN", &cfg.Auth.SIWEDomain)
	str("SIWE_URI", &cfg.Auth.SIWEURI)
	str("LEDGER_MODE", &cfg.Ledger.Mode)
	str("ETH_RPC_URL", &cfg.Ledger.Ethereum.RPCURL)
	str("PROPERTY_CONTRACT_ADDRESS", &cfg.Ledger.Ethereum.ContractAddress)
	str("ETH_PRIVATE_KEY", &cfg.Ledger.Ethereum.PrivateKey)
	str("ETH_FROM_ADDRESS", &cfg.Ledger.Ethereum.FromAddress)
	str("SOLANA_RPC_URL", &cfg.Ledger.Solana.RPCURL)
	str("SOLANA_FEE_PAYER_KEY", &cfg.Ledger.Solana.FeePayerPrivateKey)
	str("NOTIFY_WEBHOOK_URL", &cfg.Notify.WebhookURL)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup("JWT_EXPIRES_MIN"); ok {
		minutes, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("JWT_EXPIRES_MIN inválido: %w", err)
		}
		cfg.Auth.TokenTTL = time.Duration(minutes) * time.Minute
	}
	if v, ok := lookup("SIWE_CHAIN_ID"); ok {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("SIWE_CHAIN_ID inválido: %w", err)
		}
		cfg.Auth.ChainID = id
	}
	if v, ok := lookup("LEDGER_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("LEDGER_TIMEOUT inválido: %w", err)
		}
		cfg.Ledger.Timeout = d
	}
	if v, ok := lookup("TRUST_PROXY"); ok {
		trust, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TRUST_PROXY inválido: %w", err)
		}
		cfg.HTTP.TrustProxy = trust
	}
	// ETH_MOCK=false liga o modo ethereum quando nenhum outro modo foi escolhido.
	if v, ok := lookup("ETH_MOCK"); ok && strings.EqualFold(strings.TrimSpace(v), "false") && cfg.Ledger.Mode == LedgerMock {
		cfg.Ledger.Mode = LedgerEthereum
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("database.dsn é obrigatório"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("driver de banco desconhecido %q", c.Database.Driver))
	}

	switch c.Ledger.Mode {
	case LedgerMock:
	case LedgerEthereum:
		eth := c.Ledger.Ethereum
		if eth.RPCURL == "" || eth.ContractAddress == "" || eth.PrivateKey == "" {
			errs = append(errs, errors.New("modo ethereum exige ETH_RPC_URL, PROPERTY_CONTRACT_ADDRESS e ETH_PRIVATE_KEY"))
		}
	case LedgerSolana:
		if c.Ledger.Solana.RPCURL == "" || c.Ledger.Solana.FeePayerPrivateKey == "" {
			errs = append(errs, errors.New("modo solana exige SOLANA_RPC_URL e SOLANA_FEE_PAYER_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("modo de ledger desconhecido %q", c.Ledger.Mode))
	}

	if c.Ledger.Timeout <= 0 {
		errs = append(errs, errors.New("ledger.timeout deve ser positivo"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwtSecret é obrigatório"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.tokenTTL deve ser positivo"))
	}
	if len(c.Validators) == 0 {
		errs = append(errs, errors.New("pool de validadores vazio"))
	}
	seen := make(map[string]struct{}, len(c.Validators))
	for _, v := range c.Validators {
		if strings.TrimSpace(v.Name) == "" {
			errs = append(errs, errors.New("validador sem nome"))
			continue
		}
		if _, dup := seen[v.Name]; dup {
			errs = append(errs, fmt.Errorf("validador duplicado %q", v.Name))
		}
		seen[v.Name] = struct{}{}
	}

	return errors.Join(errs...)
}
