// Package settings resolves the payment gateway configuration from
// static config defaults merged with persisted admin overrides.
package settings

import (
	"sort"
	"strings"

	"github.com/wujiit/qilingstore-sub001/internal/module/payment/provider"
)

// Setting keys. Overrides are stored as flat key/value strings.
const (
	KeyNotifyBaseURL = "payment.notify_base_url"
	KeyReturnURL     = "payment.return_url"

	KeyAlipayEnabled    = "alipay.enabled"
	KeyAlipayAppID      = "alipay.app_id"
	KeyAlipayPrivateKey = "alipay.private_key"
	KeyAlipayPublicKey  = "alipay.public_key"
	KeyAlipayIsProd     = "alipay.is_prod"

	KeyWechatEnabled = "wechat.enabled"
	KeyWechatAppID   = "wechat.app_id"
	KeyWechatMchID   = "wechat.mch_id"
	KeyWechatAPIKey  = "wechat.api_key"
	KeyWechatCertPEM = "wechat.cert_pem"
	KeyWechatKeyPEM  = "wechat.key_pem"
	KeyWechatIsProd  = "wechat.is_prod"
)

// SceneKey returns the per-scene enable flag key, e.g.
// "alipay.scene_qr.enabled". An absent or empty value means enabled.
func SceneKey(channel provider.Channel, scene provider.Scene) string {
	return string(channel) + ".scene_" + string(scene) + ".enabled"
}

// channelScenes lists the flag-controllable scenes per channel.
var channelScenes = map[provider.Channel][]provider.Scene{
	provider.ChannelAlipay: {provider.SceneQR, provider.ScenePage, provider.SceneWap, provider.SceneApp},
	provider.ChannelWechat: {provider.SceneQR, provider.SceneWap, provider.SceneApp, provider.SceneJSAPI},
}

// Runtime is the resolved gateway configuration used to build adapters.
type Runtime struct {
	NotifyBaseURL string
	ReturnURL     string
	Alipay        provider.AlipayConfig
	AlipayEnabled bool
	Wechat        provider.WechatConfig
	WechatEnabled bool

	// DisabledScenes holds explicitly switched-off scene flags, keyed
	// by SceneKey. Scenes not present are enabled.
	DisabledScenes map[string]bool
}

// SceneEnabled reports whether a scene is switched on for a channel.
func (r *Runtime) SceneEnabled(channel provider.Channel, scene provider.Scene) bool {
	return !r.DisabledScenes[SceneKey(channel, scene)]
}

// Enabled reports whether the given channel is configured and enabled.
func (r *Runtime) Enabled(channel provider.Channel) bool {
	switch channel {
	case provider.ChannelAlipay:
		return r.AlipayEnabled
	case provider.ChannelWechat:
		return r.WechatEnabled
	}
	return false
}

// Fingerprint returns a value that changes whenever any credential
// changes, so adapter caches know when to rebuild.
func (r *Runtime) Fingerprint() string {
	disabled := make([]string, 0, len(r.DisabledScenes))
	for key := range r.DisabledScenes {
		disabled = append(disabled, key)
	}
	sort.Strings(disabled)

	return strings.Join(append([]string{
		r.NotifyBaseURL, r.ReturnURL,
		boolToken(r.AlipayEnabled), r.Alipay.AppID, r.Alipay.PrivateKey, r.Alipay.PublicKey, boolToken(r.Alipay.IsProd),
		boolToken(r.WechatEnabled), r.Wechat.AppID, r.Wechat.MchID, r.Wechat.APIKey, r.Wechat.CertPEM, r.Wechat.KeyPEM, boolToken(r.Wechat.IsProd),
	}, disabled...), "\x1f")
}

// Resolve merges defaults with overrides and normalizes the values.
// Overrides win key by key; an empty override value falls back to the
// default. Pure: no I/O.
func Resolve(defaults, overrides map[string]string) *Runtime {
	get := func(key string) string {
		if v, ok := overrides[key]; ok && v != "" {
			return v
		}
		return defaults[key]
	}

	rt := &Runtime{
		NotifyBaseURL: strings.TrimRight(get(KeyNotifyBaseURL), "/"),
		ReturnURL:     get(KeyReturnURL),
	}

	rt.Alipay = provider.AlipayConfig{
		AppID:      get(KeyAlipayAppID),
		PrivateKey: normalizePEM(get(KeyAlipayPrivateKey)),
		PublicKey:  normalizePEM(get(KeyAlipayPublicKey)),
		IsProd:     Truthy(get(KeyAlipayIsProd)),
	}
	rt.AlipayEnabled = Truthy(get(KeyAlipayEnabled)) && rt.Alipay.AppID != "" && rt.Alipay.PrivateKey != ""

	rt.Wechat = provider.WechatConfig{
		AppID:   get(KeyWechatAppID),
		MchID:   get(KeyWechatMchID),
		APIKey:  get(KeyWechatAPIKey),
		CertPEM: normalizePEM(get(KeyWechatCertPEM)),
		KeyPEM:  normalizePEM(get(KeyWechatKeyPEM)),
		IsProd:  Truthy(get(KeyWechatIsProd)),
	}
	rt.WechatEnabled = Truthy(get(KeyWechatEnabled)) && rt.Wechat.AppID != "" && rt.Wechat.MchID != "" && rt.Wechat.APIKey != ""

	rt.DisabledScenes = make(map[string]bool)
	for channel, scenes := range channelScenes {
		for _, scene := range scenes {
			key := SceneKey(channel, scene)
			if v := get(key); v != "" && !Truthy(v) {
				rt.DisabledScenes[key] = true
			}
		}
	}

	return rt
}

// Truthy reports whether a setting value means "on". Recognized
// tokens: 1, true, yes, on, enabled (case-insensitive).
func Truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on", "enabled":
		return true
	}
	return false
}

// normalizePEM strips CRLF line endings and surrounding whitespace.
// PEM pasted through admin UIs routinely arrives with Windows line
// endings, which the crypto parsers reject.
func normalizePEM(pem string) string {
	return strings.TrimSpace(strings.ReplaceAll(pem, "\r\n", "\n"))
}

func boolToken(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
