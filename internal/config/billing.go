package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CreditPack is a purchasable one-time credit bundle.
type CreditPack struct {
	Credits           int64   `mapstructure:"credits" json:"credits"`
	PriceUSD          float64 `mapstructure:"priceUsd" json:"price_usd"`
	ProviderProductID string  `mapstructure:"providerProductId" json:"provider_product_id"`
}

// BillingConfig carries the credit pricing knobs: how token usage converts
// into credits and which packs are on sale.
type BillingConfig struct {
	MonthlyCredits       int64              `mapstructure:"monthlyCredits"`
	TokensPerCredit      int64              `mapstructure:"tokensPerCredit"`
	CharsPerToken        int64              `mapstructure:"charsPerToken"`
	OutputTokensEstimate int64              `mapstructure:"outputTokensEstimate"`
	ModelMultipliers     map[string]float64 `mapstructure:"modelMultipliers"`
	CreditPacks          []CreditPack       `mapstructure:"creditPacks"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		MonthlyCredits:       50,
		TokensPerCredit:      1000,
		CharsPerToken:        4,
		OutputTokensEstimate: 512,
		ModelMultipliers:     map[string]float64{"default": 1.0},
		CreditPacks: []CreditPack{
			{Credits: 2000, PriceUSD: 9.9},
			{Credits: 5000, PriceUSD: 19.9},
		},
	}
}

// PackByCredits resolves a configured pack by its credit amount.
func (c BillingConfig) PackByCredits(credits int64) (CreditPack, bool) {
	for _, pack := range c.CreditPacks {
		if pack.Credits == credits {
			return pack, true
		}
	}
	return CreditPack{}, false
}

// PackByProductID resolves a configured pack by its provider product id.
func (c BillingConfig) PackByProductID(productID string) (CreditPack, bool) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return CreditPack{}, false
	}
	for _, pack := range c.CreditPacks {
		if pack.ProviderProductID == productID {
			return pack, true
		}
	}
	return CreditPack{}, false
}

// BillingConfigHolder exposes the current billing configuration and hot
// reloads it when the underlying file changes.
type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewBillingConfigHolderFrom wraps a fixed configuration, used by tests.
func NewBillingConfigHolderFrom(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/creditrail/config") // Volume-mounted config
	v.AddConfigPath("/etc/creditrail")            // System config
	v.AddConfigPath(".")                          // Current directory (dev mode)

	v.SetEnvPrefix("CREDITRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultBillingConfig()
		v.SetDefault("billing.monthlyCredits", defaults.MonthlyCredits)
		v.SetDefault("billing.tokensPerCredit", defaults.TokensPerCredit)
		v.SetDefault("billing.charsPerToken", defaults.CharsPerToken)
		v.SetDefault("billing.outputTokensEstimate", defaults.OutputTokensEstimate)
		v.SetDefault("billing.modelMultipliers", defaults.ModelMultipliers)
		v.SetDefault("billing.creditPacks", defaults.CreditPacks)
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewBillingConfigHolderFrom(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.MonthlyCredits < 0 {
		return errors.New("billing.monthlyCredits cannot be negative")
	}
	if cfg.TokensPerCredit <= 0 {
		return errors.New("billing.tokensPerCredit must be positive")
	}
	if cfg.CharsPerToken <= 0 {
		return errors.New("billing.charsPerToken must be positive")
	}
	for _, pack := range cfg.CreditPacks {
		if pack.Credits <= 0 {
			return errors.New("billing.creditPacks entries must carry positive credits")
		}
	}
	return nil
}
