package playback

import (
	"strings"

	"github.com/harunnryd/vona/pkg/adapters/synth"
)

// SelectVoice picks the best available voice for a language tag.
// Preference order: exact engine and language match, exact language
// match, language-family prefix match, then the platform default.
func SelectVoice(voices []synth.Voice, lang, preferredEngine string) (synth.Voice, bool) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	engine := strings.ToLower(strings.TrimSpace(preferredEngine))

	if engine != "" && lang != "" {
		for _, v := range voices {
			if strings.ToLower(v.Engine) == engine && strings.EqualFold(v.Lang, lang) {
				return v, true
			}
		}
	}
	if lang != "" {
		for _, v := range voices {
			if strings.EqualFold(v.Lang, lang) {
				return v, true
			}
		}
		if family, _, ok := strings.Cut(lang, "-"); ok && family != "" {
			for _, v := range voices {
				if strings.HasPrefix(strings.ToLower(v.Lang), family) {
					return v, true
				}
			}
		}
	}
	for _, v := range voices {
		if v.Default {
			return v, true
		}
	}
	return synth.Voice{}, false
}
