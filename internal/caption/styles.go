package caption

import (
	"math/rand"
	"strings"
)

type Style string

const (
	StyleRandom Style = "random"
	StyleStory  Style = "story"
	StylePain   Style = "pain"
	StyleDaily  Style = "daily"
	StyleTech   Style = "tech"
	StylePromo  Style = "promo"
)

// ConcreteStyles are the styles random selection draws from.
var ConcreteStyles = []Style{StyleStory, StylePain, StyleDaily, StyleTech, StylePromo}

var styleLabels = map[string]Style{
	"random": StyleRandom,
	"随机":     StyleRandom,
	"story":  StyleStory,
	"故事":     StyleStory,
	"pain":   StylePain,
	"痛点":     StylePain,
	"daily":  StyleDaily,
	"日常":     StyleDaily,
	"tech":   StyleTech,
	"技术":     StyleTech,
	"promo":  StylePromo,
	"促销":     StylePromo,
}

var styleZH = map[Style]string{
	StyleRandom: "随机",
	StyleStory:  "故事",
	StylePain:   "痛点",
	StyleDaily:  "日常",
	StyleTech:   "技术",
	StylePromo:  "促销",
}

// ParseStyle accepts English or Chinese labels. Unknown input yields random.
func ParseStyle(input string) Style {
	if s, ok := styleLabels[strings.ToLower(strings.TrimSpace(input))]; ok {
		return s
	}
	return StyleRandom
}

func (s Style) Label() string {
	return styleZH[s]
}

// Rule is the writing instruction injected into the prompt for the style.
func (s Style) Rule() string {
	switch s {
	case StyleStory:
		return "用第一人称或朋友口吻讲一个小故事：具体的时间、场景和感受，自然带出产品。"
	case StylePain:
		return "开头直击痛点，轻微放大困扰，再给出产品带来的缓解感，最后强提醒行动。"
	case StyleDaily:
		return "写日常生活片段，轻松聊天语气，像在分享自己的习惯。"
	case StyleTech:
		return "用通俗语言解释产品原理（透皮吸收、小分子等），避免术语堆砌，保持可信。"
	case StylePromo:
		return "直接列出好处和行动理由，节奏明快，CTA 要强。"
	}
	return ""
}

// PickStyle resolves random to a concrete style, avoiding recently used styles
// when at least one style remains. Concrete requests are returned unchanged.
func PickStyle(requested Style, recent []string, rng *rand.Rand) Style {
	if requested != StyleRandom {
		return requested
	}
	banned := map[Style]bool{}
	for _, r := range recent {
		if s := ParseStyle(r); s != StyleRandom {
			banned[s] = true
		}
	}
	pool := make([]Style, 0, len(ConcreteStyles))
	for _, s := range ConcreteStyles {
		if !banned[s] {
			pool = append(pool, s)
		}
	}
	if len(pool) == 0 {
		pool = ConcreteStyles
	}
	return pool[rng.Intn(len(pool))]
}
