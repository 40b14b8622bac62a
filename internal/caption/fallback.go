package caption

import (
	"strings"

	"github.com/digkill/CaptionStudio/internal/knowledge"
)

var fallbackHooks = map[Style]string{
	StyleStory: "朋友最近问我，用了{{product}}之后有什么不一样？",
	StylePain:  "这种不舒服，真的只有自己知道。",
	StyleDaily: "分享一个我每天都离不开的小习惯。",
	StyleTech:  "小分子草本，10秒透皮吸收，这就是{{product}}。",
	StylePromo: "{{product}}，这个月值得入手。",
}

// LocalCaption assembles a caption from knowledge-base facts without calling a
// model. Used when the upstream model is unavailable.
func LocalCaption(product string, facts []knowledge.Fact, profile Profile, style Style) string {
	hook, ok := fallbackHooks[style]
	if !ok {
		hook = fallbackHooks[StyleDaily]
	}
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(hook, "{{product}}", product))
	b.WriteString("\n\n")
	for i, f := range facts {
		if i == 2 {
			break
		}
		b.WriteString("✅ ")
		b.WriteString(f.Text)
		b.WriteString("\n")
	}
	b.WriteString("\n👉 ")
	b.WriteString(profile.CTAStyle)
	b.WriteString("\n#10secHerb #")
	b.WriteString(product)
	b.WriteString(" #草本护理")
	return b.String()
}
