package caption

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/digkill/CaptionStudio/internal/knowledge"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// PromptInput is everything the templates render from.
type PromptInput struct {
	Product string
	Profile Profile
	Style   Style
	Opening Opening
	Facts   []knowledge.Fact
	Banned  []string
}

type Prompt struct {
	System string
	User   string
}

// BuildPrompt renders the full system and user prompts.
func BuildPrompt(in PromptInput) (Prompt, error) {
	system, err := render("system.tmpl", in)
	if err != nil {
		return Prompt{}, err
	}
	user, err := render("user.tmpl", in)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{System: system, User: user}, nil
}

// BuildQuickPrompt renders the compressed prompt used for the short-timeout retry.
func BuildQuickPrompt(in PromptInput) (Prompt, error) {
	system, err := render("system.tmpl", in)
	if err != nil {
		return Prompt{}, err
	}
	user, err := render("quick.tmpl", in)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{System: system, User: user}, nil
}

func render(name string, data any) (string, error) {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}
