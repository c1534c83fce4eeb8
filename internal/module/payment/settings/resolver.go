package settings

import (
	"context"
	"strconv"

	"github.com/wujiit/qilingstore-sub001/internal/shared/config"
)

// Resolver produces the effective Runtime from static config defaults
// and persisted overrides.
type Resolver struct {
	defaults map[string]string
	store    *Store
}

// NewResolver creates a resolver seeded with defaults from the static
// configuration.
func NewResolver(cfg *config.PaymentConfig, store *Store) *Resolver {
	return &Resolver{defaults: defaultsFromConfig(cfg), store: store}
}

// Resolve loads overrides and merges them over the defaults.
func (r *Resolver) Resolve(ctx context.Context) (*Runtime, error) {
	overrides, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Resolve(r.defaults, overrides), nil
}

// Defaults returns a copy of the static defaults.
func (r *Resolver) Defaults() map[string]string {
	out := make(map[string]string, len(r.defaults))
	for k, v := range r.defaults {
		out[k] = v
	}
	return out
}

func defaultsFromConfig(cfg *config.PaymentConfig) map[string]string {
	return map[string]string{
		KeyNotifyBaseURL: cfg.NotifyBaseURL,
		KeyReturnURL:     cfg.ReturnURL,

		KeyAlipayEnabled:    strconv.FormatBool(cfg.Alipay.Enabled),
		KeyAlipayAppID:      cfg.Alipay.AppID,
		KeyAlipayPrivateKey: cfg.Alipay.PrivateKey,
		KeyAlipayPublicKey:  cfg.Alipay.PublicKey,
		KeyAlipayIsProd:     strconv.FormatBool(cfg.Alipay.IsProd),

		KeyWechatEnabled: strconv.FormatBool(cfg.Wechat.Enabled),
		KeyWechatAppID:   cfg.Wechat.AppID,
		KeyWechatMchID:   cfg.Wechat.MchID,
		KeyWechatAPIKey:  cfg.Wechat.APIKey,
		KeyWechatCertPEM: cfg.Wechat.CertPEM,
		KeyWechatKeyPEM:  cfg.Wechat.KeyPEM,
		KeyWechatIsProd:  strconv.FormatBool(cfg.Wechat.IsProd),
	}
}
