// Package mention turns a rich-text comment into a comment_mention
// notification: a plain-text preview, the rendered message and the
// structured payload.
package mention

import (
	"io"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

const (
	// DefaultPreviewLength is the preview budget in runes.
	DefaultPreviewLength = 100

	// FallbackPreview replaces content that cannot be rendered.
	FallbackPreview = "New comment"

	ellipsis = "..."
)

// Elements whose boundaries separate words.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"blockquote": true, "pre": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "tr": true, "td": true, "th": true,
}

// Elements whose text never shows up in a preview.
var hiddenElements = map[string]bool{
	"script": true, "style": true, "template": true, "head": true,
}

// Preview strips markup from content, collapses whitespace and truncates
// the result to at most max runes, ending in "..." when truncated. Text at
// or under the budget is returned exactly. It never fails: unusable input
// yields FallbackPreview.
func Preview(content string, max int) (preview string) {
	if max <= 0 {
		max = DefaultPreviewLength
	}
	defer func() {
		if recover() != nil {
			preview = FallbackPreview
		}
	}()

	text, ok := plainText(content)
	if !ok || text == "" {
		return FallbackPreview
	}
	return truncate(text, max)
}

// plainText returns the visible text of content with whitespace collapsed.
func plainText(content string) (string, bool) {
	z := html.NewTokenizer(strings.NewReader(content))

	var (
		b      strings.Builder
		hidden int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return "", false
			}
			return strings.Join(strings.Fields(b.String()), " "), true
		case html.TextToken:
			if hidden == 0 {
				// Text is already unescaped by the tokenizer.
				b.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if hiddenElements[tag] {
				hidden++
			}
			if blockElements[tag] {
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockElements[string(name)] {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if hiddenElements[tag] && hidden > 0 {
				hidden--
			}
			if blockElements[tag] {
				b.WriteByte(' ')
			}
		}
	}
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max <= len(ellipsis) {
		return ellipsis[:max]
	}

	budget := max - len(ellipsis)
	cut := runes[:budget]
	if i := lastSpace(cut); i >= budget/2 {
		cut = cut[:i]
	}

	out := strings.TrimRightFunc(string(cut), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if out == "" {
		out = string(runes[:budget])
	}
	return out + ellipsis
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
