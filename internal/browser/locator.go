package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
)

// Locator identifies elements either by CSS selector or by tag and visible text
type Locator struct {
	CSS  string
	Tag  string
	Text string
}

// CSS locates elements matching a CSS selector
func CSS(selector string) Locator {
	return Locator{CSS: selector}
}

// TextOf locates tag elements whose normalized text contains text
func TextOf(tag, text string) Locator {
	return Locator{Tag: tag, Text: text}
}

func (l Locator) String() string {
	if l.CSS != "" {
		return l.CSS
	}
	return fmt.Sprintf("%s:has-text(%q)", l.Tag, l.Text)
}

// XPath renders a text locator as an XPath expression
func (l Locator) XPath() string {
	tag := l.Tag
	if tag == "" {
		tag = "*"
	}
	return fmt.Sprintf("//%s[contains(normalize-space(.), %s)]", tag, xpathLiteral(l.Text))
}

// query returns the selector and the chromedp query option for it
func (l Locator) query() (string, chromedp.QueryOption) {
	if l.CSS != "" {
		return l.CSS, chromedp.ByQuery
	}
	return l.XPath(), chromedp.BySearch
}

func (l Locator) queryAll() (string, chromedp.QueryOption) {
	if l.CSS != "" {
		return l.CSS, chromedp.ByQueryAll
	}
	return l.XPath(), chromedp.BySearch
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
