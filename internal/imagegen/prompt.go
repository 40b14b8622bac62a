package imagegen

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode/utf8"
)

type Style struct {
	Key string
	EN  string
	ZH  string
}

// Styles is the visual style pool. Unknown or empty requests draw at random.
var Styles = []Style{
	{"beauty", "clean beauty product shot, soft studio lighting, pastel gradient backdrop", "清爽美妆棚拍，柔光，浅色渐变背景"},
	{"lifestyle", "warm lifestyle scene in a Malaysian home, natural daylight, people out of focus", "马来西亚家庭生活场景，自然光，人物虚化"},
	{"flatlay", "top-down flat lay on linen with herbs and leaves arranged around the product", "俯拍平铺，亚麻布上摆放草本叶片"},
	{"lab", "minimal laboratory setting, glassware, cool white light, scientific and trustworthy", "极简实验室场景，玻璃器皿，冷白光，专业可信"},
	{"herbal", "lush herbal garden, fresh leaves and roots, morning dew, green tones", "草本园，新鲜叶片与根茎，晨露，绿色调"},
}

func PickStyle(key string, rng *rand.Rand) Style {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, s := range Styles {
		if s.Key == key {
			return s
		}
	}
	return Styles[rng.Intn(len(Styles))]
}

// Dimensions maps an aspect label to pixel size. Anything unrecognized is 4:5.
func Dimensions(aspect string) (normalized string, width, height int) {
	switch strings.TrimSpace(aspect) {
	case "1:1":
		return "1:1", 1024, 1024
	case "9:16":
		return "9:16", 1024, 1820
	default:
		return "4:5", 1024, 1280
	}
}

// Snippet is the short caption excerpt drawn on the image.
func Snippet(caption string, limit int) string {
	for _, line := range strings.Split(caption, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > limit {
			line = string([]rune(line)[:limit]) + "…"
		}
		return line
	}
	return ""
}

// BuildPrompt writes the bilingual generation prompt.
func BuildPrompt(product string, style Style, caption string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Advertising photo for the herbal topical product %q. %s. ", product, style.EN)
	b.WriteString("Keep the product packaging exactly as in the reference image: same shape, label and colors. ")
	b.WriteString("Leave clean empty space at the top for a marketing headline; no text, no watermark, no logos besides the product label.\n")
	fmt.Fprintf(&b, "草本外用产品「%s」广告图。%s。", product, style.ZH)
	b.WriteString("保持参考图中的包装外观不变，顶部留白用于放置营销标题，画面中不要出现其他文字。")
	if s := Snippet(caption, 40); s != "" {
		fmt.Fprintf(&b, "\nMood reference / 氛围参考：%s", s)
	}
	return b.String()
}
