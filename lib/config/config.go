// Package config loads the monitor and purchase configuration from YAML,
// with environment overrides under the STOCKWATCH_ prefix (for example
// STOCKWATCH_SLACK_WEBHOOK_URL).
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigurationError reports an unreadable or invalid configuration file.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

type ProductConfig struct {
	// optional; derived from the URL slug when empty
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Username   string `mapstructure:"username"`
	IconEmoji  string `mapstructure:"icon_emoji"`
}

type CheckerConfig struct {
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	MaxRetries        int      `mapstructure:"max_retries"`
	RetryDelaySeconds int      `mapstructure:"retry_delay_seconds"`
	UserAgent         string   `mapstructure:"user_agent"`
	AssumeAvailable   bool     `mapstructure:"assume_available"`
	ErrorPhrases      []string `mapstructure:"error_phrases"`
}

func (c CheckerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c CheckerConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// Config drives the availability monitor.
type Config struct {
	Products  []ProductConfig `mapstructure:"products"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Checker   CheckerConfig   `mapstructure:"checker"`
	StatePath string          `mapstructure:"state_path"`
}

type PurchaseProduct struct {
	URL         string            `mapstructure:"url"`
	ProductID   int               `mapstructure:"product_id"`
	VariationID int               `mapstructure:"variation_id"`
	Quantity    int               `mapstructure:"quantity"`
	Attributes  map[string]string `mapstructure:"attributes"`
}

type BillingConfig struct {
	FirstName          string `mapstructure:"first_name"`
	LastName           string `mapstructure:"last_name"`
	Company            string `mapstructure:"company"`
	Country            string `mapstructure:"country"`
	Address1           string `mapstructure:"address_1"`
	City               string `mapstructure:"city"`
	Postcode           string `mapstructure:"postcode"`
	Phone              string `mapstructure:"phone"`
	Email              string `mapstructure:"email"`
	CarruerType        string `mapstructure:"carruer_type"`
	InvoiceType        string `mapstructure:"invoice_type"`
	CustomerIdentifier string `mapstructure:"customer_identifier"`
	LoveCode           string `mapstructure:"love_code"`
	CarruerNum         string `mapstructure:"carruer_num"`
}

type ShippingConfig struct {
	FirstName string `mapstructure:"first_name"`
	LastName  string `mapstructure:"last_name"`
	Company   string `mapstructure:"company"`
	Country   string `mapstructure:"country"`
	Address1  string `mapstructure:"address_1"`
	Address2  string `mapstructure:"address_2"`
	City      string `mapstructure:"city"`
	State     string `mapstructure:"state"`
	Postcode  string `mapstructure:"postcode"`
	Phone     string `mapstructure:"phone"`
	Method    string `mapstructure:"method"`
}

type PaymentConfig struct {
	Method      string `mapstructure:"method"`
	CardNumber  string `mapstructure:"card_number"`
	ExpiryMonth string `mapstructure:"expiry_month"`
	ExpiryYear  string `mapstructure:"expiry_year"`
	CVV         string `mapstructure:"cvv"`
}

type StoreConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	UserAgent         string `mapstructure:"user_agent"`
	OutOfStockMessage string `mapstructure:"out_of_stock_message"`
}

func (c StoreConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PurchaseConfig drives one purchase attempt.
type PurchaseConfig struct {
	Store     StoreConfig     `mapstructure:"store"`
	Product   PurchaseProduct `mapstructure:"product"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Shipping  ShippingConfig  `mapstructure:"shipping"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Slack     SlackConfig     `mapstructure:"slack"`
	StatePath string          `mapstructure:"state_path"`
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("STOCKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setMonitorDefaults(v *viper.Viper) {
	v.SetDefault("checker.timeout_seconds", 30)
	v.SetDefault("checker.max_retries", 3)
	v.SetDefault("checker.retry_delay_seconds", 2)
	v.SetDefault("checker.user_agent", defaultUserAgent)
	v.SetDefault("checker.assume_available", true)
	v.SetDefault("slack.username", "stockwatch")
	v.SetDefault("slack.icon_emoji", ":bento:")
	v.SetDefault("state_path", "data/state.json")
}

func setPurchaseDefaults(v *viper.Viper) {
	v.SetDefault("store.timeout_seconds", 30)
	v.SetDefault("store.user_agent", defaultUserAgent)
	v.SetDefault("store.out_of_stock_message", "缺貨")
	v.SetDefault("product.quantity", 1)
	v.SetDefault("slack.username", "stockwatch")
	v.SetDefault("slack.icon_emoji", ":bento:")
	v.SetDefault("state_path", "data/state.json")
}

// Load reads the monitor configuration.
func Load(path string) (Config, error) {
	v := newViper(path)
	setMonitorDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, &ConfigurationError{Path: path, Err: err}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &ConfigurationError{Path: path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &ConfigurationError{Path: path, Err: err}
	}

	for i, product := range cfg.Products {
		if product.Name == "" {
			cfg.Products[i].Name = NameFromURL(product.URL)
		}
	}
	return cfg, nil
}

// LoadPurchase reads the purchase configuration.
func LoadPurchase(path string) (PurchaseConfig, error) {
	v := newViper(path)
	setPurchaseDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return PurchaseConfig{}, &ConfigurationError{Path: path, Err: err}
	}

	var cfg PurchaseConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return PurchaseConfig{}, &ConfigurationError{Path: path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return PurchaseConfig{}, &ConfigurationError{Path: path, Err: err}
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Products) == 0 {
		return fmt.Errorf("at least one product is required")
	}
	for i, product := range c.Products {
		if err := validateURL(product.URL); err != nil {
			return fmt.Errorf("products[%d]: %w", i, err)
		}
	}
	if c.Slack.WebhookURL == "" {
		return fmt.Errorf("slack.webhook_url is required")
	}
	if c.Checker.MaxRetries < 1 {
		return fmt.Errorf("checker.max_retries must be at least 1")
	}
	return nil
}

func (c PurchaseConfig) Validate() error {
	if err := validateURL(c.Store.BaseURL); err != nil {
		return fmt.Errorf("store.base_url: %w", err)
	}
	if c.Product.URL == "" {
		return fmt.Errorf("product.url is required")
	}
	if c.Product.ProductID <= 0 {
		return fmt.Errorf("product.product_id must be positive")
	}
	if c.Product.Quantity < 1 {
		return fmt.Errorf("product.quantity must be at least 1")
	}
	if c.Billing.Email == "" {
		return fmt.Errorf("billing.email is required")
	}
	if c.Payment.Method == "" || c.Payment.Method == "sinopac-self-hosted-credit" {
		if c.Payment.CardNumber == "" || c.Payment.CVV == "" {
			return fmt.Errorf("payment.card_number and payment.cvv are required for card payments")
		}
	}
	if c.Slack.WebhookURL == "" {
		return fmt.Errorf("slack.webhook_url is required")
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must be http or https", raw)
	}
	return nil
}

// NameFromURL derives a display name from the product slug, so
// ".../product/strawberry-daifuku/" becomes "Strawberry Daifuku".
func NameFromURL(productURL string) string {
	u, err := url.Parse(productURL)
	if err != nil {
		return productURL
	}

	slug := ""
	for _, segment := range strings.Split(u.Path, "/") {
		if segment != "" && segment != "product" {
			slug = segment
		}
	}
	if slug == "" {
		return productURL
	}

	words := strings.Split(slug, "-")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
