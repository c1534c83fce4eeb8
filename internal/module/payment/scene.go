package payment

import (
	"fmt"

	"github.com/wujiit/qilingstore-sub001/internal/module/payment/provider"
)

// sceneSynonyms maps accepted request aliases onto canonical scenes.
var sceneSynonyms = map[provider.Scene]provider.Scene{
	"web": provider.ScenePage,
	"h5":  provider.SceneWap,
}

// channelScenes lists the canonical scenes each channel accepts.
var channelScenes = map[provider.Channel][]provider.Scene{
	provider.ChannelAlipay: {provider.SceneQR, provider.ScenePage, provider.SceneWap, provider.SceneApp},
	provider.ChannelWechat: {provider.SceneQR, provider.SceneWap, provider.SceneApp, provider.SceneJSAPI},
}

// autoCandidates is the ordered candidate list an "auto" request
// resolves to: in-person QR first, then the channel's web redirect.
var autoCandidates = map[provider.Channel][]provider.Scene{
	provider.ChannelAlipay: {provider.SceneQR, provider.ScenePage},
	provider.ChannelWechat: {provider.SceneQR, provider.SceneWap},
}

// NormalizeScene resolves synonyms and validates the scene against the
// channel. An empty scene defaults to auto.
func NormalizeScene(channel provider.Channel, scene provider.Scene) (provider.Scene, error) {
	if _, ok := channelScenes[channel]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	if scene == "" {
		scene = provider.SceneAuto
	}
	if canonical, ok := sceneSynonyms[scene]; ok {
		scene = canonical
	}
	if scene == provider.SceneAuto {
		return scene, nil
	}

	for _, s := range channelScenes[channel] {
		if s == scene {
			return scene, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedScene, channel, scene)
}

// SceneCandidates expands a normalized scene into the ordered list of
// scenes to try. Explicit scenes produce a single candidate; auto
// produces the channel's fallback chain.
func SceneCandidates(channel provider.Channel, scene provider.Scene) []provider.Scene {
	if scene == provider.SceneAuto {
		return autoCandidates[channel]
	}
	return []provider.Scene{scene}
}

// benignCloseCodes are gateway rejection codes on close that mean the
// remote payment is already gone, which is the outcome we wanted.
var benignCloseCodes = map[provider.Channel]map[string]bool{
	provider.ChannelAlipay: {
		"ACQ.TRADE_NOT_EXIST":    true,
		"ACQ.TRADE_STATUS_ERROR": true,
	},
	provider.ChannelWechat: {
		"ORDERNOTEXIST": true,
		"ORDERCLOSED":   true,
	},
}

// isBenignCloseCode reports whether a close rejection can be treated
// as success.
func isBenignCloseCode(channel provider.Channel, code string) bool {
	return benignCloseCodes[channel][code]
}
