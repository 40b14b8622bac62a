package caption

import "math/rand"

// Opening is the hook shape requested for the first line.
type Opening struct {
	Schema      string
	Instruction string
	Seed        string
}

var openingSchemas = []Opening{
	{Schema: "hashtag-topic", Instruction: "第一行用一个话题标签式短句开场，例如 #话题 + 一句感受"},
	{Schema: "detail-moment", Instruction: "第一行写一个具体的细节瞬间（时间、动作、身体感受）"},
	{Schema: "rhetorical-question", Instruction: "第一行用一个反问句引发共鸣"},
	{Schema: "micro-story", Instruction: "第一行是一个微型故事的开头（人物 + 场景）"},
	{Schema: "surprising-fact", Instruction: "第一行抛出一个让人意外的小知识"},
	{Schema: "dialogue-line", Instruction: "第一行是一句对话引语，像朋友对你说的话"},
	{Schema: "pain-point-punch", Instruction: "第一行用一句很短的痛点直击"},
	{Schema: "scene-visual", Instruction: "第一行描写一个画面感很强的生活场景"},
}

var styleSeeds = map[Style][]string{
	StyleStory: {"上个月我表姐跟我说……", "那天半夜三点，我又醒了。"},
	StylePain:  {"又来了，这种感觉真的很烦。", "你是不是也这样："},
	StyleDaily: {"今天的小日常：", "下班回家第一件事，"},
	StyleTech:  {"很多人不知道，皮肤其实会“吃”东西。", "10秒，是它被吸收的时间。"},
	StylePromo: {"这个月最值得入手的一样东西：", "先说重点："},
}

// PickOpening chooses an opening schema other than exclude. For concrete styles
// it usually attaches one of the style's seed openings as a tone reference.
func PickOpening(style Style, exclude string, rng *rand.Rand) Opening {
	pool := make([]Opening, 0, len(openingSchemas))
	for _, o := range openingSchemas {
		if o.Schema != exclude {
			pool = append(pool, o)
		}
	}
	o := pool[rng.Intn(len(pool))]
	if seeds := styleSeeds[style]; len(seeds) > 0 && rng.Intn(10) < 6 {
		o.Seed = seeds[rng.Intn(len(seeds))]
	}
	return o
}
