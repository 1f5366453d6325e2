package browser

import "testing"

func TestLocatorXPath(t *testing.T) {
	tests := []struct {
		name string
		loc  Locator
		want string
	}{
		{"plain text", TextOf("a", "Yes, check out"), `//a[contains(normalize-space(.), "Yes, check out")]`},
		{"any tag", TextOf("", "Override"), `//*[contains(normalize-space(.), "Override")]`},
		{"double quote", TextOf("a", `say "hi"`), `//a[contains(normalize-space(.), 'say "hi"')]`},
		{"both quotes", TextOf("a", `it's "x"`), `//a[contains(normalize-space(.), concat("it's ", '"', "x", '"'))]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.loc.XPath(); got != tt.want {
				t.Errorf("XPath() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLocatorQuery(t *testing.T) {
	sel, _ := CSS("#barcode").query()
	if sel != "#barcode" {
		t.Errorf("expected CSS selector to pass through, got %s", sel)
	}
	sel, _ = TextOf("a", "Log out").query()
	if sel != `//a[contains(normalize-space(.), "Log out")]` {
		t.Errorf("unexpected XPath %s", sel)
	}
	if s := TextOf("a", "Log out").String(); s != `a:has-text("Log out")` {
		t.Errorf("unexpected String() %s", s)
	}
}
