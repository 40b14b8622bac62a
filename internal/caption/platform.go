package caption

import "strings"

type Platform string

const (
	PlatformFacebook    Platform = "facebook"
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformInstagram   Platform = "instagram"
	PlatformTikTok      Platform = "tiktok"
)

// Profile bounds the shape of a caption for one platform.
type Profile struct {
	Platform     Platform
	Name         string
	LengthHint   string
	EmojiRange   string
	HashtagRange string
	CTAStyle     string
}

var profiles = map[Platform]Profile{
	PlatformFacebook: {
		Platform:     PlatformFacebook,
		Name:         "Facebook",
		LengthHint:   "120–220 字，1–6 段短句，留白排版",
		EmojiRange:   "0–2",
		HashtagRange: "0–2",
		CTAStyle:     "私讯我 / 留言“我要”",
	},
	PlatformXiaohongshu: {
		Platform:     PlatformXiaohongshu,
		Name:         "小红书",
		LengthHint:   "80–160 字，句子更短，语气轻松",
		EmojiRange:   "2–4",
		HashtagRange: "1–3",
		CTAStyle:     "收藏 / 评论区见",
	},
	PlatformInstagram: {
		Platform:     PlatformInstagram,
		Name:         "Instagram",
		LengthHint:   "80–150 字，首句抓眼球",
		EmojiRange:   "1–3",
		HashtagRange: "3–6",
		CTAStyle:     "DM 我 / 点主页链接",
	},
	PlatformTikTok: {
		Platform:     PlatformTikTok,
		Name:         "TikTok",
		LengthHint:   "40–100 字，口播节奏",
		EmojiRange:   "1–2",
		HashtagRange: "2–4",
		CTAStyle:     "评论区留言 / 点主页",
	},
}

var platformAliases = map[string]Platform{
	"facebook":    PlatformFacebook,
	"fb":          PlatformFacebook,
	"xiaohongshu": PlatformXiaohongshu,
	"xhs":         PlatformXiaohongshu,
	"小红书":         PlatformXiaohongshu,
	"red":         PlatformXiaohongshu,
	"instagram":   PlatformInstagram,
	"ig":          PlatformInstagram,
	"tiktok":      PlatformTikTok,
	"tt":          PlatformTikTok,
	"抖音":          PlatformTikTok,
}

// ProfileFor resolves a platform name; unknown input falls back to Facebook.
func ProfileFor(input string) Profile {
	if p, ok := platformAliases[strings.ToLower(strings.TrimSpace(input))]; ok {
		return profiles[p]
	}
	return profiles[PlatformFacebook]
}
