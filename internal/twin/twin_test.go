package twin_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/studiowebux/kohaload/internal/twin"
	"github.com/studiowebux/kohaload/internal/types"
)

func setupTwin(t *testing.T, mutate func(*twin.Config)) (*twin.Twin, *httptest.Server) {
	t.Helper()
	cfg := twin.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	tw := twin.New(cfg, nil)
	srv := httptest.NewServer(tw)
	t.Cleanup(srv.Close)
	return tw, srv
}

func apiRequest(t *testing.T, srv *httptest.Server, method, path, contentType, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+"/api/v1"+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.SetBasicAuth("koha", "koha")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

const testBiblio = `{"leader":"00000nam a2200000 i 4500","fields":[{"245":{"ind1":"1","ind2":"0","subfields":[{"a":"Quiet river"},{"b":"A Load Testing Example for Koha"}]}}]}`

func createFixtures(t *testing.T, srv *httptest.Server) (patron types.Patron, biblioID int, item types.Item) {
	t.Helper()
	status, body := apiRequest(t, srv, http.MethodPost, "/patrons", "application/json",
		`{"firstname":"Ada","surname":"Lovelace","cardnumber":"0190abc","library_id":"FFL","category_id":"PT"}`)
	if status != http.StatusCreated {
		t.Fatalf("create patron: expected 201, got %d: %s", status, body)
	}
	if err := json.Unmarshal(body, &patron); err != nil {
		t.Fatalf("decode patron: %v", err)
	}

	status, body = apiRequest(t, srv, http.MethodPost, "/biblios", "application/marc-in-json", testBiblio)
	if status != http.StatusOK {
		t.Fatalf("create biblio: expected 200, got %d: %s", status, body)
	}
	var biblio types.Biblio
	if err := json.Unmarshal(body, &biblio); err != nil {
		t.Fatalf("decode biblio: %v", err)
	}

	status, body = apiRequest(t, srv, http.MethodPost, "/biblios/"+strconv.Itoa(biblio.ID)+"/items", "application/json",
		`{"external_id":"BARCODE0001","item_type_id":"BK","home_library_id":"FFL","holding_library_id":"FFL"}`)
	if status != http.StatusCreated {
		t.Fatalf("create item: expected 201, got %d: %s", status, body)
	}
	if err := json.Unmarshal(body, &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	return patron, biblio.ID, item
}

func TestAPIRequiresBasicAuth(t *testing.T) {
	_, srv := setupTwin(t, nil)

	resp, err := srv.Client().Get(srv.URL + "/api/v1/libraries")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAPIReferenceLists(t *testing.T) {
	_, srv := setupTwin(t, nil)

	status, body := apiRequest(t, srv, http.MethodGet, "/libraries?_per_page=500", "", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var libs []types.Library
	if err := json.Unmarshal(body, &libs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(libs) < 2 || libs[1].LibraryID != "FFL" {
		t.Errorf("unexpected libraries: %+v", libs)
	}

	for _, path := range []string{"/patron_categories", "/item_types"} {
		if status, _ := apiRequest(t, srv, http.MethodGet, path, "", ""); status != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, status)
		}
	}
}

func TestAPICreateAndDelete(t *testing.T) {
	tw, srv := setupTwin(t, nil)
	patron, biblioID, item := createFixtures(t, srv)

	if patron.PatronID == 0 || item.ItemID == 0 || biblioID == 0 {
		t.Fatalf("expected ids to be assigned: patron=%d biblio=%d item=%d", patron.PatronID, biblioID, item.ItemID)
	}
	if item.BiblioID != biblioID {
		t.Errorf("expected item attached to biblio %d, got %d", biblioID, item.BiblioID)
	}

	// biblio with items attached cannot be deleted
	if status, _ := apiRequest(t, srv, http.MethodDelete, "/biblios/"+strconv.Itoa(biblioID), "", ""); status != http.StatusConflict {
		t.Errorf("delete biblio with items: expected 409, got %d", status)
	}

	if status, _ := apiRequest(t, srv, http.MethodDelete, "/items/"+strconv.Itoa(item.ItemID), "", ""); status != http.StatusNoContent {
		t.Errorf("delete item: expected 204, got %d", status)
	}
	if status, _ := apiRequest(t, srv, http.MethodDelete, "/biblios/"+strconv.Itoa(biblioID), "", ""); status != http.StatusNoContent {
		t.Errorf("delete biblio: expected 204, got %d", status)
	}
	if status, _ := apiRequest(t, srv, http.MethodDelete, "/patrons/"+strconv.Itoa(patron.PatronID), "", ""); status != http.StatusNoContent {
		t.Errorf("delete patron: expected 204, got %d", status)
	}
	if status, _ := apiRequest(t, srv, http.MethodDelete, "/patrons/"+strconv.Itoa(patron.PatronID), "", ""); status != http.StatusNotFound {
		t.Errorf("delete missing patron: expected 404, got %d", status)
	}

	st := tw.Store().Snapshot()
	if len(st.Patrons) != 0 || len(st.Biblios) != 0 || len(st.Items) != 0 {
		t.Errorf("expected empty store, got %+v", st)
	}
}

func TestAPIBiblioRequiresMARCInJSON(t *testing.T) {
	_, srv := setupTwin(t, nil)

	status, _ := apiRequest(t, srv, http.MethodPost, "/biblios", "application/json", testBiblio)
	if status != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", status)
	}
}

func TestAPIDuplicateCardnumber(t *testing.T) {
	_, srv := setupTwin(t, nil)
	payload := `{"surname":"Doe","cardnumber":"dup","library_id":"CPL","category_id":"PT"}`

	if status, _ := apiRequest(t, srv, http.MethodPost, "/patrons", "application/json", payload); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if status, _ := apiRequest(t, srv, http.MethodPost, "/patrons", "application/json", payload); status != http.StatusConflict {
		t.Errorf("expected 409 for duplicate cardnumber, got %d", status)
	}
}

func TestAPIRandomFailure(t *testing.T) {
	tw, srv := setupTwin(t, nil)
	tw.SetFailRate(1)

	if status, _ := apiRequest(t, srv, http.MethodGet, "/libraries", "", ""); status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", status)
	}

	// admin endpoints are not affected
	resp, err := srv.Client().Get(srv.URL + "/admin/state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /admin/state, got %d", resp.StatusCode)
	}
}

// staffClient returns a client that keeps the session cookie between requests
func staffClient(t *testing.T, srv *httptest.Server) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := srv.Client()
	client.Jar = jar
	return client
}

func fetch(t *testing.T, client *http.Client, method, target string, form url.Values) string {
	t.Helper()
	var (
		resp *http.Response
		err  error
	)
	if method == http.MethodPost {
		resp, err = client.PostForm(target, form)
	} else {
		resp, err = client.Get(target)
	}
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return string(data)
}

func login(t *testing.T, client *http.Client, srv *httptest.Server) string {
	t.Helper()
	return fetch(t, client, http.MethodPost, srv.URL+"/cgi-bin/koha/mainpage.pl", url.Values{
		"login_userid":   {"koha"},
		"login_password": {"koha"},
	})
}

func TestStaffLoginAndLogout(t *testing.T) {
	_, srv := setupTwin(t, func(c *twin.Config) { c.LocalLogin = true })
	client := staffClient(t, srv)

	page := fetch(t, client, http.MethodGet, srv.URL+"/cgi-bin/koha/mainpage.pl", nil)
	for _, want := range []string{`id="locallogin_button"`, `name="login_userid"`, `name="login_password"`, `id="submit-button"`} {
		if !strings.Contains(page, want) {
			t.Errorf("login page missing %s", want)
		}
	}

	bad := fetch(t, client, http.MethodPost, srv.URL+"/cgi-bin/koha/mainpage.pl", url.Values{
		"login_userid":   {"koha"},
		"login_password": {"wrong"},
	})
	if strings.Contains(bad, "loggedinusername") {
		t.Error("expected login to fail with a bad password")
	}

	home := login(t, client, srv)
	if !strings.Contains(home, `<span class="loggedinusername">koha</span>`) {
		t.Errorf("expected logged in user on main page, got:\n%s", home)
	}

	out := fetch(t, client, http.MethodGet, srv.URL+"/cgi-bin/koha/staff/logout.pl", nil)
	if strings.Contains(out, "loggedinusername") {
		t.Error("expected logout to end the session")
	}
	again := fetch(t, client, http.MethodGet, srv.URL+"/cgi-bin/koha/circ/returns.pl", nil)
	if !strings.Contains(again, `name="login_userid"`) {
		t.Error("expected circulation pages to require a session after logout")
	}
}

func TestCirculationCheckoutAndCheckin(t *testing.T) {
	_, srv := setupTwin(t, nil)
	patron, _, item := createFixtures(t, srv)
	client := staffClient(t, srv)
	login(t, client, srv)

	circURL := srv.URL + "/cgi-bin/koha/circ/circulation.pl?borrowernumber=" + strconv.Itoa(patron.PatronID)
	page := fetch(t, client, http.MethodGet, circURL, nil)
	if !strings.Contains(page, `class="circ_barcode"`) || !strings.Contains(page, patron.Cardnumber) {
		t.Fatalf("expected checkout label with card number, got:\n%s", page)
	}

	// not checked out yet
	ret := fetch(t, client, http.MethodPost, srv.URL+"/cgi-bin/koha/circ/returns.pl", url.Values{"barcode": {item.ExternalID}})
	if strings.Contains(ret, "checkedintable") {
		t.Error("expected no checked-in table for an item that was not on loan")
	}

	issued := fetch(t, client, http.MethodPost, srv.URL+"/cgi-bin/koha/circ/circulation.pl", url.Values{
		"borrowernumber": {strconv.Itoa(patron.PatronID)},
		"barcode":        {item.ExternalID},
	})
	if !strings.Contains(issued, `class="lastchecked"`) || !strings.Contains(issued, item.ExternalID) {
		t.Fatalf("expected last checked item, got:\n%s", issued)
	}
	if !strings.Contains(issued, "Quiet river") {
		t.Error("expected the biblio title on the checkout page")
	}

	ret = fetch(t, client, http.MethodPost, srv.URL+"/cgi-bin/koha/circ/returns.pl", url.Values{"barcode": {item.ExternalID}})
	if !strings.Contains(ret, `id="checkedintable"`) || !strings.Contains(ret, item.ExternalID) {
		t.Errorf("expected checked-in table with barcode, got:\n%s", ret)
	}
}

func TestCirculationRestrictionOverride(t *testing.T) {
	_, srv := setupTwin(t, func(c *twin.Config) { c.RestrictPatrons = true })
	patron, _, _ := createFixtures(t, srv)
	client := staffClient(t, srv)
	login(t, client, srv)

	circURL := srv.URL + "/cgi-bin/koha/circ/circulation.pl?borrowernumber=" + strconv.Itoa(patron.PatronID)
	page := fetch(t, client, http.MethodGet, circURL, nil)
	if !strings.Contains(page, "Override restriction temporarily") {
		t.Fatalf("expected restriction override link, got:\n%s", page)
	}
	if strings.Contains(page, "circ_barcode") {
		t.Error("expected no checkout form while restricted")
	}

	overridden := fetch(t, client, http.MethodGet, circURL+"&override_restriction=1", nil)
	if !strings.Contains(overridden, "circ_barcode") {
		t.Error("expected checkout form after override")
	}
}

func TestOPACSearch(t *testing.T) {
	_, srv := setupTwin(t, nil)
	createFixtures(t, srv)

	home := fetch(t, srv.Client(), http.MethodGet, srv.URL+"/", nil)
	if !strings.Contains(home, `name="q"`) || !strings.Contains(home, `id="searchsubmit"`) {
		t.Fatalf("expected search form, got:\n%s", home)
	}

	results := fetch(t, srv.Client(), http.MethodGet, srv.URL+"/cgi-bin/koha/opac-search.pl?q=river", nil)
	if !strings.Contains(results, `<div id="numresults">Your search returned 1 results.</div>`) {
		t.Errorf("expected one result, got:\n%s", results)
	}
}

func TestAdminReset(t *testing.T) {
	tw, srv := setupTwin(t, nil)
	createFixtures(t, srv)

	resp, err := srv.Client().Post(srv.URL+"/admin/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	resp.Body.Close()

	st := tw.Store().Snapshot()
	if len(st.Patrons) != 0 || len(st.Items) != 0 {
		t.Errorf("expected empty store after reset, got %+v", st)
	}
}
