package twin

import (
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const sessionCookie = "CGISESSID"

var pages = template.Must(template.New("pages").Parse(`
{{define "header"}}<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>{{.Title}} &rsaquo; Koha</title></head>
<body id="{{.BodyID}}">
{{if .User}}<div id="header"><ul id="user-menu"><li><span class="loggedinusername">{{.User}}</span></li><li><a id="logout" href="/cgi-bin/koha/staff/logout.pl">Log out</a></li></ul></div>{{end}}
{{end}}

{{define "footer"}}</body></html>
{{end}}

{{define "login"}}{{template "header" .}}
<h1>Log in to Koha</h1>
{{if .Error}}<div id="login_error" class="alert">{{.Error}}</div>{{end}}
{{if .LocalLogin}}<p><a id="locallogin_button" href="#" onclick="document.getElementById('loginform').style.display='block';this.style.display='none';return false;">Log in with a local account</a></p>{{end}}
<form id="loginform" method="post" action="/cgi-bin/koha/mainpage.pl"{{if .LocalLogin}} style="display:none"{{end}}>
<input type="hidden" name="koha_login_context" value="intranet">
<label for="userid">Username:</label><input type="text" id="userid" name="login_userid">
<label for="password">Password:</label><input type="password" id="password" name="login_password">
<input type="submit" id="submit-button" value="Log in">
</form>
{{template "footer" .}}{{end}}

{{define "mainpage"}}{{template "header" .}}
<h1>Koha staff interface</h1>
<ul id="area-list"><li><a href="/cgi-bin/koha/circ/circulation-home.pl">Circulation</a></li><li><a href="/cgi-bin/koha/circ/returns.pl">Check in</a></li></ul>
{{template "footer" .}}{{end}}

{{define "circulation"}}{{template "header" .}}
{{with .Circ}}
{{if .NotFound}}<div class="dialog alert">Patron not found.</div>
{{else if .Restricted}}<div id="circmessages" class="dialog alert"><p>Checkouts are BLOCKED because patron is restricted.</p>
<a href="/cgi-bin/koha/circ/circulation.pl?borrowernumber={{.PatronID}}&override_restriction=1">Override restriction temporarily</a></div>
{{else}}
{{if .Alert}}<div class="dialog alert">{{.Alert}}</div>{{end}}
{{if .ConfirmBarcode}}<div id="circ_needsconfirmation" class="dialog alert"><p>Item is checked out to another patron.</p>
<a href="/cgi-bin/koha/circ/circulation.pl?borrowernumber={{.PatronID}}&barcode={{.ConfirmBarcode}}&issueconfirmed=1{{if .Override}}&override_restriction=1{{end}}">Yes, check out (Y)</a></div>{{end}}
{{if .Last}}<div class="lastchecked"><p>Checked out: {{.Last.Title}} ({{.Last.Barcode}}). Due on {{.Last.Due}}</p></div>{{end}}
<form id="circ_circulation_issue" method="post" action="/cgi-bin/koha/circ/circulation.pl">
<input type="hidden" name="borrowernumber" value="{{.PatronID}}">
{{if .Override}}<input type="hidden" name="override_restriction" value="1">{{end}}
<label class="circ_barcode" for="barcode">Checking out to {{.Patron}}</label>
<input type="text" id="barcode" name="barcode" autocomplete="off">
<button type="submit" class="btn btn-primary">Check out</button>
</form>
{{end}}
{{end}}
{{template "footer" .}}{{end}}

{{define "returns"}}{{template "header" .}}
<h1>Check in</h1>
{{with .Returns}}
{{if .Message}}<div class="dialog message">{{.Message}}</div>{{end}}
{{if .Barcode}}<table id="checkedintable"><thead><tr><th>Title</th><th>Barcode</th><th>Patron</th></tr></thead>
<tbody><tr><td class="ci-title">{{.Title}}</td><td class="ci-barcode">{{.Barcode}}</td><td class="ci-patron">{{.Patron}}</td></tr></tbody></table>{{end}}
{{end}}
<form id="circ_returns_checkin" method="post" action="/cgi-bin/koha/circ/returns.pl">
<label for="barcode">Enter item barcode:</label>
<input type="text" id="barcode" name="barcode" autocomplete="off">
<button type="submit" class="btn btn-primary">Check in</button>
</form>
{{template "footer" .}}{{end}}

{{define "opac"}}<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>Koha online catalog</title></head>
<body id="{{.BodyID}}">
<form name="searchform" method="get" action="/cgi-bin/koha/opac-search.pl" id="searchform">
<input type="text" id="translControl1" name="q" value="{{.Query}}">
<button type="submit" id="searchsubmit" class="btn btn-primary" title="Search">Search</button>
</form>
{{if .Searched}}<div id="numresults">Your search returned {{.Results}} results.</div>{{end}}
</body></html>
{{end}}
`))

type pageData struct {
	Title      string
	BodyID     string
	User       string
	Error      string
	LocalLogin bool
	Circ       *circData
	Returns    *returnsData
}

type circData struct {
	PatronID       int
	Patron         string
	NotFound       bool
	Restricted     bool
	Override       bool
	Alert          string
	ConfirmBarcode string
	Last           *lastChecked
}

type lastChecked struct {
	Title   string
	Barcode string
	Due     string
}

type returnsData struct {
	Message string
	Title   string
	Barcode string
	Patron  string
}

type opacData struct {
	BodyID   string
	Query    string
	Searched bool
	Results  int
}

func (t *Twin) pageRoutes(r chi.Router) {
	r.Get("/", t.opacMain)
	r.Get("/cgi-bin/koha/opac-main.pl", t.opacMain)
	r.Get("/cgi-bin/koha/opac-search.pl", t.opacSearch)

	r.Get("/cgi-bin/koha/mainpage.pl", t.mainpage)
	r.Post("/cgi-bin/koha/mainpage.pl", t.login)
	r.Get("/cgi-bin/koha/staff/logout.pl", t.logout)

	r.Get("/cgi-bin/koha/circ/circulation.pl", t.circulation)
	r.Post("/cgi-bin/koha/circ/circulation.pl", t.circulation)
	r.Get("/cgi-bin/koha/circ/returns.pl", t.returns)
	r.Post("/cgi-bin/koha/circ/returns.pl", t.returns)
}

func (t *Twin) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		t.logger.Error("failed to render page", "page", name, "error", err)
	}
}

// sessionUser returns the logged in staff user, or renders the login form
func (t *Twin) sessionUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if user, ok := t.store.SessionUser(c.Value); ok {
			return user, true
		}
	}
	t.renderLogin(w, "")
	return "", false
}

func (t *Twin) renderLogin(w http.ResponseWriter, errMsg string) {
	t.render(w, "login", pageData{
		Title:      "Log in to Koha",
		BodyID:     "main_auth",
		Error:      errMsg,
		LocalLogin: t.config().LocalLogin,
	})
}

func (t *Twin) mainpage(w http.ResponseWriter, r *http.Request) {
	user, ok := t.sessionUser(w, r)
	if !ok {
		return
	}
	t.render(w, "mainpage", pageData{Title: "Home", BodyID: "main_intranet-main", User: user})
}

func (t *Twin) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg := t.config()
	user := r.PostForm.Get("login_userid")
	if user != cfg.User || r.PostForm.Get("login_password") != cfg.Pass {
		t.renderLogin(w, "Invalid username or password")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    t.store.NewSession(user),
		Path:     "/",
		HttpOnly: true,
	})
	http.Redirect(w, r, "/cgi-bin/koha/mainpage.pl", http.StatusFound)
}

func (t *Twin) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		t.store.EndSession(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	t.renderLogin(w, "")
}

func (t *Twin) circulation(w http.ResponseWriter, r *http.Request) {
	user, ok := t.sessionUser(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	patronID, _ := strconv.Atoi(r.Form.Get("borrowernumber"))
	data := &circData{PatronID: patronID, Override: r.Form.Get("override_restriction") == "1"}
	page := pageData{Title: "Checking out", BodyID: "circ_circulation", User: user, Circ: data}

	patron, found := t.store.Patron(patronID)
	if !found {
		data.NotFound = true
		t.render(w, "circulation", page)
		return
	}
	data.Patron = strings.TrimSpace(patron.Firstname+" "+patron.Surname) + " (" + patron.Cardnumber + ")"
	if t.store.IsRestricted(patronID) && !data.Override {
		data.Restricted = true
		t.render(w, "circulation", page)
		return
	}

	barcode := strings.TrimSpace(r.Form.Get("barcode"))
	if barcode == "" {
		t.render(w, "circulation", page)
		return
	}

	holder, err := t.store.LoanHolder(barcode)
	if errors.Is(err, errNotFound) {
		data.Alert = "Barcode not found: " + barcode
		t.render(w, "circulation", page)
		return
	}
	if holder != 0 && holder != patronID && r.Form.Get("issueconfirmed") != "1" {
		data.ConfirmBarcode = barcode
		t.render(w, "circulation", page)
		return
	}

	loan, err := t.store.Checkout(patronID, barcode, time.Now())
	if err != nil {
		data.Alert = "Checkout failed: " + err.Error()
		t.render(w, "circulation", page)
		return
	}
	data.Last = &lastChecked{
		Title:   t.store.ItemTitle(barcode),
		Barcode: barcode,
		Due:     loan.DueDate.Format("01/02/2006"),
	}
	t.render(w, "circulation", page)
}

func (t *Twin) returns(w http.ResponseWriter, r *http.Request) {
	user, ok := t.sessionUser(w, r)
	if !ok {
		return
	}
	page := pageData{Title: "Check in", BodyID: "circ_returns", User: user, Returns: &returnsData{}}
	if r.Method != http.MethodPost {
		t.render(w, "returns", page)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	barcode := strings.TrimSpace(r.PostForm.Get("barcode"))
	patron, err := t.store.Checkin(barcode)
	switch {
	case errors.Is(err, errNotFound):
		page.Returns.Message = "No item with barcode: " + barcode
	case errors.Is(err, errNotOnLoan):
		page.Returns.Message = "Not checked out."
	default:
		page.Returns.Barcode = barcode
		page.Returns.Title = t.store.ItemTitle(barcode)
		page.Returns.Patron = strings.TrimSpace(patron.Firstname+" "+patron.Surname) + " (" + patron.Cardnumber + ")"
	}
	t.render(w, "returns", page)
}

func (t *Twin) opacMain(w http.ResponseWriter, r *http.Request) {
	t.render(w, "opac", opacData{BodyID: "opac-main"})
}

func (t *Twin) opacSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	t.render(w, "opac", opacData{
		BodyID:   "results",
		Query:    q,
		Searched: true,
		Results:  t.store.SearchTitles(q),
	})
}
