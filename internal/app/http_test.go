package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"crmbridge/api/internal/crm"
	"crmbridge/api/internal/notify"
	"crmbridge/api/internal/portal"
	"crmbridge/api/internal/quote"
	"crmbridge/api/internal/reconcile"
)

type fakeCRM struct {
	accounts    map[string]crm.Account
	patches     map[string]map[string]any
	orders      []crm.Order
	quotes      []crm.QuoteHeader
	orderLines  map[string][]crm.Line
	quoteLines  map[string][]crm.Line
	products    map[string]crm.Product
	shipments   map[string][]crm.Shipment
	snapshot    crm.FleetSnapshot
	snapshotErr error
}

func (f *fakeCRM) FindAccountByName(ctx context.Context, name string) (crm.Account, error) {
	account, ok := f.accounts[name]
	if !ok {
		return crm.Account{}, crm.ErrNotFound
	}
	return account, nil
}

func (f *fakeCRM) FindAccountIDByName(ctx context.Context, name string) (string, error) {
	account, err := f.FindAccountByName(ctx, name)
	return account.ID, err
}

func (f *fakeCRM) PatchAccountShipping(ctx context.Context, accountID string, fields map[string]any) error {
	if f.patches == nil {
		f.patches = map[string]map[string]any{}
	}
	f.patches[accountID] = fields
	return nil
}

func (f *fakeCRM) ListOrdersForAccount(ctx context.Context, accountID string, page int) ([]crm.Order, error) {
	return f.orders, nil
}

func (f *fakeCRM) ListOrderLines(ctx context.Context, orderID string) ([]crm.Line, error) {
	return f.orderLines[orderID], nil
}

func (f *fakeCRM) OrderStats(ctx context.Context, accountID string) (int, int, error) {
	return len(f.orders), 1, nil
}

func (f *fakeCRM) ListQuotesForAccount(ctx context.Context, accountID string, page int) ([]crm.QuoteHeader, error) {
	return f.quotes, nil
}

func (f *fakeCRM) ListQuoteLines(ctx context.Context, quoteID string) ([]crm.Line, error) {
	return f.quoteLines[quoteID], nil
}

func (f *fakeCRM) QuoteStats(ctx context.Context, accountID string) (int, int, error) {
	return len(f.quotes), 2, nil
}

func (f *fakeCRM) GetProductDetails(ctx context.Context, productID string) (crm.Product, error) {
	product, ok := f.products[productID]
	if !ok {
		return crm.Product{}, crm.ErrNotFound
	}
	return product, nil
}

func (f *fakeCRM) ListShipmentsForOrder(ctx context.Context, orderID string) ([]crm.Shipment, error) {
	return f.shipments[orderID], nil
}

func (f *fakeCRM) AccountDashboard(ctx context.Context, accountName string) (crm.FleetSnapshot, error) {
	if f.snapshotErr != nil {
		return crm.FleetSnapshot{}, f.snapshotErr
	}
	return f.snapshot, nil
}

func (f *fakeCRM) QuoteLink(ctx context.Context, quoteID string) (string, error) {
	return "https://org.example/lightning/r/gii__SalesQuote__c/" + quoteID + "/view", nil
}

type fakeAssembler struct {
	req    quote.Request
	result quote.Result
	err    error
}

func (f *fakeAssembler) Assemble(ctx context.Context, req quote.Request) (quote.Result, error) {
	f.req = req
	return f.result, f.err
}

type fakeReconciler struct {
	in     reconcile.Input
	result reconcile.Result
	err    error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, in reconcile.Input) (reconcile.Result, error) {
	f.in = in
	return f.result, f.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) record(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, kind)
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeNotifier) QuoteCreated(event notify.QuoteEvent)              { f.record("quote_created") }
func (f *fakeNotifier) QuotePDF(event notify.QuoteEvent)                  { f.record("quote_pdf") }
func (f *fakeNotifier) ContactCreated(email, contactID, account string)   { f.record("contact_created") }
func (f *fakeNotifier) AddressChanged(account string, addr crm.Address)   { f.record("address_changed") }
func (f *fakeNotifier) AccountRequest(account, email string)              { f.record("account_request") }

type fakeMembers struct {
	configured bool
	memberID   string
	fields     portal.MemberFields
	err        error
}

func (f *fakeMembers) IsConfigured() bool { return f.configured }

func (f *fakeMembers) UpdateMember(ctx context.Context, email string, fields portal.MemberFields) (string, error) {
	f.fields = fields
	return f.memberID, f.err
}

type fakeSites struct{ names []string }

func (f *fakeSites) Search(q string) []string { return f.names }

type fakeRequestLog struct {
	keys []string
}

func (f *fakeRequestLog) RecordPortalRequest(ctx context.Context, portalKey, quoteID, accountName, email string) error {
	f.keys = append(f.keys, portalKey)
	return nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

type testEnv struct {
	crm        *fakeCRM
	assembler  *fakeAssembler
	reconciler *fakeReconciler
	notifier   *fakeNotifier
	members    *fakeMembers
	requests   *fakeRequestLog
	handler    http.Handler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		crm:        &fakeCRM{accounts: map[string]crm.Account{}},
		assembler:  &fakeAssembler{},
		reconciler: &fakeReconciler{},
		notifier:   &fakeNotifier{},
		members:    &fakeMembers{configured: true, memberID: "mem_123"},
		requests:   &fakeRequestLog{},
	}
	sites := &fakeSites{names: []string{"Amazon ABQ1", "Amazon ABQ2"}}
	service := NewService(env.crm, env.assembler, env.reconciler, env.notifier, env.members, sites).
		WithRequestLog(env.requests)
	env.handler = NewHTTPServer(service, "*").Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("invalid response body %q: %v", rec.Body.String(), err)
	}
}

func TestRootAndHealth(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("root status %d", rec.Code)
	}
	var root map[string]string
	decodeResponse(t, rec, &root)
	if root["status"] != "active" {
		t.Errorf("unexpected root body: %v", root)
	}

	rec = env.do(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health status %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api?page=3&limit=10", "")
	var echo map[string]string
	decodeResponse(t, rec, &echo)
	if echo["page"] != "3" || echo["limit"] != "10" {
		t.Errorf("unexpected echo: %v", echo)
	}
}

func TestReadyReportsDatabaseDown(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/api/ready", "")
	if rec.Code != http.StatusOK {
		t.Errorf("ready without db should be ok, got %d", rec.Code)
	}

	service := NewService(env.crm, env.assembler, env.reconciler, env.notifier, env.members, &fakeSites{}).
		WithDB(&fakePinger{err: errors.New("connection refused")})
	handler := NewHTTPServer(service, "*").Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	down := httptest.NewRecorder()
	handler.ServeHTTP(down, req)
	if down.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with failing db: status %d", down.Code)
	}
}

const quoteBody = `{
	"customer": {"address1": "100 Main St", "address2": "Suite 4", "city": "Wilmington", "state": "MA", "zip": "01887", "country": "USA"},
	"user": {"auth": {"email": "jo@example.com"}, "customFields": {"amazon-site": "Amazon ABQ1", "first-name": "Jo", "last-name": "Rivera"}},
	"items": [{"partnumber": "DTG-PS-001", "description": "Problem Solver Cart", "qty": 2}, {"partnumber": "DTG-BAT-01", "qty": 0}]
}`

func TestCreateQuote(t *testing.T) {
	env := newTestEnv()
	env.assembler.result = quote.Result{
		QuoteID:        "a0Q1",
		QuoteName:      "Test Quote on 18 August 2025 01:17",
		PortalKey:      "jo@example.com_20250818011742123456",
		Link:           "https://org.example/lightning/r/gii__SalesQuote__c/a0Q1/view",
		AccountCreated: true,
		AddressChanged: true,
	}

	rec := env.do(t, http.MethodPost, "/api/quote", quoteBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp QuoteResponse
	decodeResponse(t, rec, &resp)
	if !resp.Status || resp.Message != "Sales Quote created successfully" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !strings.Contains(resp.Link, "a0Q1") {
		t.Errorf("unexpected link: %q", resp.Link)
	}

	if env.assembler.req.AccountName != "Amazon ABQ1" {
		t.Errorf("account name not taken from custom fields: %q", env.assembler.req.AccountName)
	}
	if env.assembler.req.Address.Street != "100 Main St Suite 4" {
		t.Errorf("street not joined: %q", env.assembler.req.Address.Street)
	}
	if len(env.assembler.req.Lines) != 2 || env.assembler.req.Lines[1].Quantity != 1 {
		t.Errorf("zero quantity should be clamped to 1: %+v", env.assembler.req.Lines)
	}

	if len(env.requests.keys) != 1 || env.requests.keys[0] != "jo@example.com_20250818011742123456" {
		t.Errorf("portal request not recorded: %v", env.requests.keys)
	}

	kinds := env.notifier.kinds()
	want := []string{"quote_created", "quote_pdf", "account_request", "address_changed"}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("notifications = %v, want %v", kinds, want)
	}
}

func TestCreateQuoteValidation(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/quote", `{"items": [{"partnumber": "X", "qty": 1}]}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing email: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/quote", `{"user": {"auth": {"email": "jo@example.com"}}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing items: status %d", rec.Code)
	}
}

func TestContactSync(t *testing.T) {
	env := newTestEnv()
	env.reconciler.result = reconcile.Result{
		ContactID:      "003CT",
		ContactCreated: true,
		Added:          []string{"001A2"},
		Removed:        []string{"001A8"},
	}

	rec := env.do(t, http.MethodPost, "/api/contact-sync",
		`{"email": "jo@example.com", "firstName": "Jo", "lastName": "Rivera", "amazonSite": "Amazon ABQ1", "managedAccounts": ["Amazon ABQ2"], "type": "setup"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ContactID      string   `json:"contact_id"`
		ContactCreated bool     `json:"contact_created"`
		Added          []string `json:"added"`
		Removed        []string `json:"removed"`
	}
	decodeResponse(t, rec, &resp)
	if resp.ContactID != "003CT" || !resp.ContactCreated {
		t.Errorf("unexpected response: %+v", resp)
	}
	if env.reconciler.in.Mode != reconcile.ModeSetup {
		t.Errorf("mode = %q", env.reconciler.in.Mode)
	}
	if kinds := env.notifier.kinds(); len(kinds) != 1 || kinds[0] != "contact_created" {
		t.Errorf("notifications = %v", kinds)
	}
}

func TestContactSyncErrors(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/contact-sync", `{"firstName": "Jo"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing email: status %d", rec.Code)
	}

	env.reconciler.err = &reconcile.AccountNotFoundError{Name: "Amazon ZZZ9"}
	rec = env.do(t, http.MethodPost, "/api/contact-sync", `{"email": "jo@example.com", "amazonSite": "Amazon ZZZ9"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown account: status %d", rec.Code)
	}
}

func TestFetchAddressSplitsStreet(t *testing.T) {
	env := newTestEnv()
	env.crm.accounts["Amazon ABQ1"] = crm.Account{
		ID:   "001A1",
		Name: "Amazon ABQ1",
		Address: crm.Address{
			Street:     "100 Main St Suite 4",
			City:       "Wilmington",
			State:      "MA",
			PostalCode: "01887",
			Country:    "USA",
		},
	}

	rec := env.do(t, http.MethodPost, "/api/fetch-address",
		`{"account_name": "Amazon ABQ1", "first_name": "Jo", "last_name": "Rivera"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp AddressResponse
	decodeResponse(t, rec, &resp)
	if resp.ShipTo != "Jo Rivera" {
		t.Errorf("shipto = %q", resp.ShipTo)
	}
	// odd word count: the first line takes the extra word
	if resp.Address1 != "100 Main St" || resp.Address2 != "Suite 4" {
		t.Errorf("street split = %q / %q", resp.Address1, resp.Address2)
	}

	rec = env.do(t, http.MethodPost, "/api/fetch-address", `{"account_name": "Amazon ZZZ9"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown account: status %d", rec.Code)
	}
}

func TestSplitStreet(t *testing.T) {
	cases := []struct {
		street   string
		address1 string
		address2 string
	}{
		{"100 Main St Suite 4", "100 Main St", "Suite 4"},
		{"100 Main St", "100 Main", "St"},
		{"Broadway", "Broadway", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		address1, address2 := splitStreet(tc.street)
		if address1 != tc.address1 || address2 != tc.address2 {
			t.Errorf("splitStreet(%q) = %q / %q, want %q / %q", tc.street, address1, address2, tc.address1, tc.address2)
		}
	}
}

func TestAccountDataOrders(t *testing.T) {
	env := newTestEnv()
	env.crm.accounts["Amazon ABQ1"] = crm.Account{ID: "001A1", Name: "Amazon ABQ1"}
	env.crm.orders = []crm.Order{{ID: "801O1", Name: "SO-000100", Status: "Open", QuoteID: "a0Q1", QuoteName: "SQ-001234"}}
	env.crm.orderLines = map[string][]crm.Line{"801O1": {{ID: "l1", ProductID: "01tPS", Quantity: 3}}}
	env.crm.products = map[string]crm.Product{"01tPS": {ID: "01tPS", Name: "DTG-PS-001", Price: 2183, Description: "Problem Solver Cart"}}
	env.crm.shipments = map[string][]crm.Shipment{"801O1": {{TrackingLink: "https://t.example/1", ShipmentStatus: "In Transit"}}}

	rec := env.do(t, http.MethodGet, "/api/account-data?account_name=Amazon+ABQ1&type=orders&page=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Result AccountData `json:"result"`
	}
	decodeResponse(t, rec, &resp)
	if len(resp.Result.Orders) != 1 {
		t.Fatalf("orders = %+v", resp.Result.Orders)
	}
	order := resp.Result.Orders[0]
	if order.Name != "SO-000100" || order.QuoteLink == "" {
		t.Errorf("unexpected order row: %+v", order)
	}
	if len(order.Lines) != 1 || order.Lines[0].Name != "DTG-PS-001" || order.Lines[0].Price != 2183 {
		t.Errorf("unexpected lines: %+v", order.Lines)
	}
	if len(order.Shipments) != 1 {
		t.Errorf("shipments missing: %+v", order.Shipments)
	}
	if resp.Result.TotalOrders != 1 || resp.Result.OpenOrders != 1 || resp.Result.PageSize != 5 {
		t.Errorf("unexpected stats: %+v", resp.Result)
	}
	// the quotes tab was not requested, its stats stay zero
	if resp.Result.TotalQuotes != 0 {
		t.Errorf("quote stats should be zero: %+v", resp.Result)
	}
}

func TestAccountDataQuotes(t *testing.T) {
	env := newTestEnv()
	env.crm.accounts["Amazon ABQ1"] = crm.Account{ID: "001A1", Name: "Amazon ABQ1"}
	env.crm.quotes = []crm.QuoteHeader{{ID: "a0Q1", Name: "SQ-001234", Status: "Open"}}
	env.crm.quoteLines = map[string][]crm.Line{"a0Q1": {{ID: "l1", ProductID: "01tGONE", Quantity: 2}}}

	rec := env.do(t, http.MethodGet, "/api/account-data?account_name=Amazon+ABQ1&type=quotes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Result AccountData `json:"result"`
	}
	decodeResponse(t, rec, &resp)
	if len(resp.Result.Quotes) != 1 || resp.Result.Quotes[0].Name != "SQ-001234" {
		t.Fatalf("quotes = %+v", resp.Result.Quotes)
	}
	// unknown product keeps the row with placeholder details
	line := resp.Result.Quotes[0].Lines[0]
	if line.Name != "Unknown" || line.Qty != 2 {
		t.Errorf("unexpected line: %+v", line)
	}
	if resp.Result.TotalQuotes != 1 || resp.Result.OpenQuotes != 2 {
		t.Errorf("unexpected stats: %+v", resp.Result)
	}
}

func TestAccountDataErrors(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/api/account-data", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing account_name: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/account-data?account_name=Amazon+ZZZ9", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown account: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/account-data?account_name=Amazon+ABQ1&page=zero", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad page: status %d", rec.Code)
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv()
	currentYear := time.Now().Year()
	env.crm.snapshot = crm.FleetSnapshot{
		OpenOrders: 4,
		OpenQuotes: 2,
		Fields: map[string]float64{
			"PS_Cart_Count__c":                 12,
			"Battery_Blade_Connector_Count__c": 0,
			fmt.Sprintf("Battery_Expiration_%d__c", currentYear): 7,
		},
	}

	rec := env.do(t, http.MethodGet, "/api/dashboard?site_code=ABQ1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp Dashboard
	decodeResponse(t, rec, &resp)
	if resp.Part1.Order != 4 || resp.Part1.Quotes != 2 {
		t.Errorf("unexpected part1: %+v", resp.Part1)
	}
	// zero counts are omitted from the product summary
	if len(resp.Part2.ProductSummary) != 1 || resp.Part2.ProductSummary[0].Type != "Problem Solver Cart" {
		t.Errorf("unexpected product summary: %+v", resp.Part2.ProductSummary)
	}
	if len(resp.Part2.BatchExpiry) != 5 {
		t.Fatalf("expiry buckets = %+v", resp.Part2.BatchExpiry)
	}

	inRange := currentYear >= 2025 && currentYear <= 2029
	for _, bucket := range resp.Part2.BatchExpiry {
		want := "good"
		if inRange && bucket.Year == currentYear {
			want = "upgrade"
		}
		if bucket.Status != want {
			t.Errorf("year %d status = %q, want %q", bucket.Year, bucket.Status, want)
		}
	}

	if inRange {
		if resp.Part3.Type != "alert" || resp.Part3.Quantity == nil || *resp.Part3.Quantity != 7 {
			t.Errorf("unexpected insight: %+v", resp.Part3)
		}
	}
}

func TestDashboardNoExpiringBatteries(t *testing.T) {
	env := newTestEnv()
	env.crm.snapshot = crm.FleetSnapshot{Fields: map[string]float64{}}

	rec := env.do(t, http.MethodGet, "/api/dashboard?site_code=ABQ1", "")
	var resp Dashboard
	decodeResponse(t, rec, &resp)
	if resp.Part3.Text != "No Batteries To Replace" || resp.Part3.Type != "positive" {
		t.Errorf("unexpected insight: %+v", resp.Part3)
	}

	rec = env.do(t, http.MethodGet, "/api/dashboard", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing site_code: status %d", rec.Code)
	}
}

func TestUpdateAddress(t *testing.T) {
	env := newTestEnv()
	env.crm.accounts["Amazon ABQ1"] = crm.Account{ID: "001A1", Name: "Amazon ABQ1"}

	rec := env.do(t, http.MethodPost, "/update-address",
		`{"account_name": "Amazon ABQ1", "address_line_1": "200 Elm St", "address_line_2": "Dock B", "city": "Nashua"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	fields := env.crm.patches["001A1"]
	if fields["ShippingStreet"] != "200 Elm St\nDock B" {
		t.Errorf("street = %v", fields["ShippingStreet"])
	}
	if fields["ShippingCity"] != "Nashua" {
		t.Errorf("city = %v", fields["ShippingCity"])
	}
	// untouched fields are not patched
	if _, ok := fields["ShippingState"]; ok {
		t.Errorf("state should not be patched: %v", fields)
	}
	if kinds := env.notifier.kinds(); len(kinds) != 1 || kinds[0] != "address_changed" {
		t.Errorf("notifications = %v", kinds)
	}
}

func TestUpdateAddressErrors(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/update-address", `{"city": "Nashua"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing account: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/update-address", `{"account_name": "Amazon ZZZ9", "city": "Nashua"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown account: status %d", rec.Code)
	}
}

func TestUpdateMember(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/update-member",
		`{"email": "jo@example.com", "firstName": "Jo", "lastName": "Rivera", "jobTitle": "Ops Lead", "amazonSite": "Amazon ABQ1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	decodeResponse(t, rec, &resp)
	if resp["member_id"] != "mem_123" {
		t.Errorf("unexpected response: %v", resp)
	}
	if env.members.fields.JobTitle != "Ops Lead" {
		t.Errorf("fields not forwarded: %+v", env.members.fields)
	}
}

func TestUpdateMemberErrors(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/update-member", `{"firstName": "Jo"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing email: status %d", rec.Code)
	}

	env.members.configured = false
	rec = env.do(t, http.MethodPost, "/api/update-member", `{"email": "jo@example.com"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured: status %d", rec.Code)
	}

	env.members.configured = true
	env.members.err = errors.New("member not found")
	rec = env.do(t, http.MethodPost, "/api/update-member", `{"email": "missing@example.com"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown member: status %d", rec.Code)
	}
}

func TestSites(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/sites?q=abq", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Sites []string `json:"sites"`
	}
	decodeResponse(t, rec, &resp)
	if len(resp.Sites) != 2 {
		t.Errorf("sites = %v", resp.Sites)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d", rec.Code)
	}
}

type fakeAPIKeys struct{ key string }

func (f *fakeAPIKeys) VerifyAPIKey(ctx context.Context, key string) (string, error) {
	if key != f.key {
		return "", errors.New("invalid api key")
	}
	return "portal", nil
}

func TestPortalKeyAuthentication(t *testing.T) {
	env := newTestEnv()
	service := NewService(env.crm, env.assembler, env.reconciler, env.notifier, env.members, &fakeSites{}).
		WithAPIKeys(&fakeAPIKeys{key: "pk_live_1"})
	handler := NewHTTPServer(service, "*").Handler()

	// health stays open
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health should not require a key: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/sites?q=abq", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/sites?q=abq", nil)
	req.Header.Set("X-Portal-Key", "pk_live_1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid key: status %d", rec.Code)
	}
}

func TestMiddlewareSetsRequestIDAndCORS(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/api/health", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id missing")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("cors header missing")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	echo := httptest.NewRecorder()
	env.handler.ServeHTTP(echo, req)
	if echo.Header().Get("X-Request-ID") != "req-42" {
		t.Error("provided request id should be echoed")
	}
}
