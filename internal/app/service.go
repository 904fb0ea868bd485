// Package app wires the portal-facing HTTP surface to the CRM gateway, the
// contact reconciler, the quote assembler, and the notification dispatcher.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"crmbridge/api/internal/crm"
	"crmbridge/api/internal/notify"
	"crmbridge/api/internal/portal"
	"crmbridge/api/internal/quote"
	"crmbridge/api/internal/reconcile"
)

// crmGateway is the slice of CRM operations the service reads through.
type crmGateway interface {
	FindAccountByName(ctx context.Context, name string) (crm.Account, error)
	FindAccountIDByName(ctx context.Context, name string) (string, error)
	PatchAccountShipping(ctx context.Context, accountID string, fields map[string]any) error
	ListOrdersForAccount(ctx context.Context, accountID string, page int) ([]crm.Order, error)
	ListOrderLines(ctx context.Context, orderID string) ([]crm.Line, error)
	OrderStats(ctx context.Context, accountID string) (total, open int, err error)
	ListQuotesForAccount(ctx context.Context, accountID string, page int) ([]crm.QuoteHeader, error)
	ListQuoteLines(ctx context.Context, quoteID string) ([]crm.Line, error)
	QuoteStats(ctx context.Context, accountID string) (total, open int, err error)
	GetProductDetails(ctx context.Context, productID string) (crm.Product, error)
	ListShipmentsForOrder(ctx context.Context, orderID string) ([]crm.Shipment, error)
	AccountDashboard(ctx context.Context, accountName string) (crm.FleetSnapshot, error)
	QuoteLink(ctx context.Context, quoteID string) (string, error)
}

type quoteAssembler interface {
	Assemble(ctx context.Context, req quote.Request) (quote.Result, error)
}

type contactReconciler interface {
	Reconcile(ctx context.Context, in reconcile.Input) (reconcile.Result, error)
}

type notifier interface {
	QuoteCreated(event notify.QuoteEvent)
	QuotePDF(event notify.QuoteEvent)
	ContactCreated(email, contactID, accountName string)
	AddressChanged(accountName string, address crm.Address)
	AccountRequest(accountName, email string)
}

type memberClient interface {
	IsConfigured() bool
	UpdateMember(ctx context.Context, email string, fields portal.MemberFields) (string, error)
}

type siteSearcher interface {
	Search(q string) []string
}

// requestLog records quote submissions; may be nil when no database is
// configured.
type requestLog interface {
	RecordPortalRequest(ctx context.Context, portalKey, quoteID, accountName, email string) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// apiKeyVerifier checks a presented portal key against the stored hashes.
// May be nil, which leaves the API open.
type apiKeyVerifier interface {
	VerifyAPIKey(ctx context.Context, key string) (string, error)
}

type Service struct {
	gateway    crmGateway
	assembler  quoteAssembler
	reconciler contactReconciler
	notify     notifier
	members    memberClient
	sites      siteSearcher
	requests   requestLog
	db         pinger
	redis      pinger
	apiKeys    apiKeyVerifier
}

func NewService(gateway crmGateway, assembler quoteAssembler, reconciler contactReconciler, notify notifier, members memberClient, sites siteSearcher) *Service {
	return &Service{
		gateway:    gateway,
		assembler:  assembler,
		reconciler: reconciler,
		notify:     notify,
		members:    members,
		sites:      sites,
	}
}

// WithRequestLog attaches the portal request log.
func (s *Service) WithRequestLog(requests requestLog) *Service {
	s.requests = requests
	return s
}

// WithDB attaches the database for readiness checks.
func (s *Service) WithDB(db pinger) *Service {
	s.db = db
	return s
}

// WithRedis attaches the token cache for readiness checks.
func (s *Service) WithRedis(redis pinger) *Service {
	s.redis = redis
	return s
}

// PingRedis checks token cache connectivity for the readiness probe.
func (s *Service) PingRedis(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Ping(ctx)
}

// WithAPIKeys enables portal key authentication.
func (s *Service) WithAPIKeys(apiKeys apiKeyVerifier) *Service {
	s.apiKeys = apiKeys
	return s
}

// AuthorizePortalKey validates the X-Portal-Key header value. A nil verifier
// means authentication is not enforced.
func (s *Service) AuthorizePortalKey(ctx context.Context, key string) error {
	if s.apiKeys == nil {
		return nil
	}
	if key == "" {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Portal key required", nil)
	}
	if _, err := s.apiKeys.VerifyAPIKey(ctx, key); err != nil {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Portal key invalid", nil)
	}
	return nil
}

// Ping checks database connectivity for the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}

// QuotePayload is the portal-shaped quote submission.
type QuotePayload struct {
	Customer struct {
		Address1 string `json:"address1"`
		Address2 string `json:"address2"`
		City     string `json:"city"`
		State    string `json:"state"`
		Zip      string `json:"zip"`
		Country  string `json:"country"`
	} `json:"customer"`
	User struct {
		Auth struct {
			Email string `json:"email"`
		} `json:"auth"`
		CustomFields map[string]string `json:"customFields"`
	} `json:"user"`
	Items []struct {
		PartNumber  string `json:"partnumber"`
		Description string `json:"description"`
		Qty         int    `json:"qty"`
	} `json:"items"`
}

// QuoteResponse is the portal-facing result of a quote submission.
type QuoteResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Link    string `json:"link"`
}

// CreateQuote translates the portal payload, runs the assembler, logs the
// request, and fires the notification side channel.
func (s *Service) CreateQuote(ctx context.Context, payload QuotePayload) (QuoteResponse, error) {
	accountName := payload.User.CustomFields["amazon-site"]
	if accountName == "" {
		accountName = "Unnamed Account"
	}
	email := payload.User.Auth.Email

	req := quote.Request{
		Email:       email,
		AccountName: accountName,
		Address: crm.Address{
			Street:     strings.TrimSpace(payload.Customer.Address1 + " " + payload.Customer.Address2),
			City:       payload.Customer.City,
			State:      payload.Customer.State,
			PostalCode: payload.Customer.Zip,
			Country:    payload.Customer.Country,
		},
	}
	for _, item := range payload.Items {
		qty := item.Qty
		if qty < 1 {
			qty = 1
		}
		req.Lines = append(req.Lines, quote.LineItem{PartNumber: item.PartNumber, Quantity: qty})
	}

	result, err := s.assembler.Assemble(ctx, req)
	if err != nil {
		return QuoteResponse{}, fmt.Errorf("assemble quote: %w", err)
	}

	if s.requests != nil {
		if err := s.requests.RecordPortalRequest(ctx, result.PortalKey, result.QuoteID, accountName, email); err != nil {
			log.Printf("quote %s: request log failed: %v", result.QuoteID, err)
		}
	}

	event := notify.QuoteEvent{
		Email:           email,
		AccountName:     accountName,
		QuoteID:         result.QuoteID,
		QuoteName:       result.QuoteName,
		PortalKey:       result.PortalKey,
		Link:            result.Link,
		ShippingAddress: formatAddress(req.Address),
		AddressChanged:  result.AddressChanged,
	}
	s.notify.QuoteCreated(event)
	s.notify.QuotePDF(event)
	if result.AccountCreated {
		s.notify.AccountRequest(accountName, email)
	}
	if result.AddressChanged {
		s.notify.AddressChanged(accountName, req.Address)
	}

	return QuoteResponse{
		Status:  true,
		Message: "Sales Quote created successfully",
		Link:    result.Link,
	}, nil
}

// ContactSyncPayload is the portal-shaped contact sync request.
type ContactSyncPayload struct {
	Email           string   `json:"email"`
	FirstName       string   `json:"firstName"`
	LastName        string   `json:"lastName"`
	AmazonSite      string   `json:"amazonSite"`
	ManagedAccounts []string `json:"managedAccounts"`
	Type            string   `json:"type"`
}

// SyncContact reconciles a contact's linked accounts with what the portal
// reports.
func (s *Service) SyncContact(ctx context.Context, payload ContactSyncPayload) (reconcile.Result, error) {
	if payload.Email == "" {
		return reconcile.Result{}, domainError(http.StatusBadRequest, "INVALID_BODY", "email is required", nil)
	}

	mode := reconcile.ModeSetup
	if payload.Type == string(reconcile.ModeUpdate) {
		mode = reconcile.ModeUpdate
	}

	result, err := s.reconciler.Reconcile(ctx, reconcile.Input{
		Email:           payload.Email,
		FirstName:       payload.FirstName,
		LastName:        payload.LastName,
		PrimaryAccount:  payload.AmazonSite,
		ManagedAccounts: payload.ManagedAccounts,
		Mode:            mode,
	})
	if err != nil {
		var notFound *reconcile.AccountNotFoundError
		if errors.As(err, &notFound) {
			return reconcile.Result{}, domainError(http.StatusNotFound, "ACCOUNT_NOT_FOUND", notFound.Error(), nil)
		}
		return reconcile.Result{}, fmt.Errorf("sync contact: %w", err)
	}

	if result.ContactCreated {
		s.notify.ContactCreated(payload.Email, result.ContactID, payload.AmazonSite)
	}
	return result, nil
}

// AddressResponse is the checkout-form address lookup result.
type AddressResponse struct {
	ShipTo   string `json:"shipto"`
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
}

// FetchAddress returns an account's shipping address shaped for the portal
// checkout form, with the street split across the two address lines.
func (s *Service) FetchAddress(ctx context.Context, accountName, firstName, lastName string) (AddressResponse, error) {
	account, err := s.gateway.FindAccountByName(ctx, accountName)
	if errors.Is(err, crm.ErrNotFound) {
		return AddressResponse{}, domainError(http.StatusNotFound, "ADDRESS_NOT_FOUND", "Address not found for the given account", nil)
	}
	if err != nil {
		return AddressResponse{}, fmt.Errorf("fetch address: %w", err)
	}

	address1, address2 := splitStreet(account.Address.Street)
	return AddressResponse{
		ShipTo:   strings.TrimSpace(firstName + " " + lastName),
		Address1: address1,
		Address2: address2,
		City:     account.Address.City,
		State:    account.Address.State,
		Zip:      account.Address.PostalCode,
		Country:  account.Address.Country,
	}, nil
}

// AccountLine is a product row under an order or quote.
type AccountLine struct {
	Name        string  `json:"name"`
	Qty         float64 `json:"qty"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

// AccountOrder is one order row in the account history view.
type AccountOrder struct {
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	QuoteID   string         `json:"quote_id,omitempty"`
	QuoteName string         `json:"quote_name,omitempty"`
	QuoteLink string         `json:"quote_link,omitempty"`
	Lines     []AccountLine  `json:"lines"`
	Shipments []crm.Shipment `json:"shipments"`
}

// AccountQuote is one quote row in the account history view.
type AccountQuote struct {
	Name   string        `json:"name"`
	Status string        `json:"status"`
	Lines  []AccountLine `json:"lines"`
}

// AccountData is the paged order/quote history for an account.
type AccountData struct {
	Orders      []AccountOrder `json:"orders"`
	Quotes      []AccountQuote `json:"quotes"`
	Page        int            `json:"page"`
	PageSize    int            `json:"page_size"`
	TotalOrders int            `json:"total_orders"`
	TotalQuotes int            `json:"total_quotes"`
	OpenOrders  int            `json:"open_orders"`
	OpenQuotes  int            `json:"open_quotes"`
}

// AccountHistory returns one page of either orders or quotes for an account,
// with product details resolved per line.
func (s *Service) AccountHistory(ctx context.Context, accountName, tab string, page int) (AccountData, error) {
	if page < 1 {
		page = 1
	}
	accountID, err := s.gateway.FindAccountIDByName(ctx, accountName)
	if errors.Is(err, crm.ErrNotFound) {
		return AccountData{}, domainError(http.StatusNotFound, "ACCOUNT_NOT_FOUND",
			fmt.Sprintf("Account %q not found", accountName), nil)
	}
	if err != nil {
		return AccountData{}, fmt.Errorf("account history: %w", err)
	}

	data := AccountData{
		Orders:   []AccountOrder{},
		Quotes:   []AccountQuote{},
		Page:     page,
		PageSize: 5,
	}

	if tab == "quotes" {
		quotes, err := s.gateway.ListQuotesForAccount(ctx, accountID, page)
		if err != nil {
			return AccountData{}, fmt.Errorf("list quotes: %w", err)
		}
		total, open, err := s.gateway.QuoteStats(ctx, accountID)
		if err != nil {
			return AccountData{}, fmt.Errorf("quote stats: %w", err)
		}
		data.TotalQuotes, data.OpenQuotes = total, open

		for _, q := range quotes {
			lines, err := s.gateway.ListQuoteLines(ctx, q.ID)
			if err != nil {
				return AccountData{}, fmt.Errorf("quote lines: %w", err)
			}
			data.Quotes = append(data.Quotes, AccountQuote{
				Name:   q.Name,
				Status: q.Status,
				Lines:  s.resolveLines(ctx, lines),
			})
		}
		return data, nil
	}

	orders, err := s.gateway.ListOrdersForAccount(ctx, accountID, page)
	if err != nil {
		return AccountData{}, fmt.Errorf("list orders: %w", err)
	}
	total, open, err := s.gateway.OrderStats(ctx, accountID)
	if err != nil {
		return AccountData{}, fmt.Errorf("order stats: %w", err)
	}
	data.TotalOrders, data.OpenOrders = total, open

	for _, order := range orders {
		row := AccountOrder{
			Name:      order.Name,
			Status:    order.Status,
			QuoteID:   order.QuoteID,
			QuoteName: order.QuoteName,
			Shipments: []crm.Shipment{},
		}
		if order.QuoteID != "" {
			if link, err := s.gateway.QuoteLink(ctx, order.QuoteID); err == nil {
				row.QuoteLink = link
			}
		}
		if shipments, err := s.gateway.ListShipmentsForOrder(ctx, order.ID); err == nil {
			row.Shipments = shipments
		}
		lines, err := s.gateway.ListOrderLines(ctx, order.ID)
		if err != nil {
			return AccountData{}, fmt.Errorf("order lines: %w", err)
		}
		row.Lines = s.resolveLines(ctx, lines)
		data.Orders = append(data.Orders, row)
	}
	return data, nil
}

// resolveLines attaches product details to raw line rows. Lines whose
// product cannot be loaded keep zero values rather than failing the page.
func (s *Service) resolveLines(ctx context.Context, lines []crm.Line) []AccountLine {
	resolved := make([]AccountLine, 0, len(lines))
	for _, line := range lines {
		row := AccountLine{Qty: line.Quantity, Name: "Unknown"}
		if product, err := s.gateway.GetProductDetails(ctx, line.ProductID); err == nil {
			row.Name = product.Name
			row.Price = product.Price
			row.Description = product.Description
		} else {
			log.Printf("account history: product %s: %v", line.ProductID, err)
		}
		resolved = append(resolved, row)
	}
	return resolved
}

// productTypes maps display names to the fleet-count columns behind them.
var productTypes = []struct {
	label string
	field string
}{
	{"Battery Blade Connector", "Battery_Blade_Connector_Count__c"},
	{"Battery Pogo Connector", "Battery_POGO_Connector_Count__c"},
	{"Charger - Blade Connector", "Charger_Blade_Connector_Count__c"},
	{"Charger - Pogo Connector", "Charger_POGO_Connector_Count__c"},
	{"Controller - Blade Connector", "Controller_Blade_Connector_Count__c"},
	{"Controller - Pogo Connector", "Controller_POGO_Connector_Count__c"},
	{"DTG Power Retrofit Kit", "DTG_Retrofit_Kit_Count__c"},
	{"DTG Problem Solver Security Cart", "PS_Security_Cart_Count__c"},
	{"DTG Slam Cart", "PS_Slam_Cart_Count__c"},
	{"Problem Solver Cart", "PS_Cart_Count__c"},
	{"Problem Solver Loss Prevention Cart", "PS_Loss_Prevention_Cart_Count__c"},
}

// ProductCount is one owned-product row on the dashboard.
type ProductCount struct {
	Type     string  `json:"type"`
	Quantity float64 `json:"quantity"`
}

// ExpiryBucket is one battery-expiry year on the dashboard.
type ExpiryBucket struct {
	Year     int     `json:"year"`
	Quantity float64 `json:"quantity"`
	Status   string  `json:"status"`
}

// Insight is the headline callout on the dashboard.
type Insight struct {
	Text     string   `json:"text"`
	Quantity *float64 `json:"quantity"`
	Type     string   `json:"type"`
}

// Dashboard is the site dashboard response.
type Dashboard struct {
	Part1 struct {
		Order  int `json:"order"`
		Quotes int `json:"quotes"`
	} `json:"part1"`
	Part2 struct {
		ProductSummary []ProductCount `json:"product_summary"`
		BatchExpiry    []ExpiryBucket `json:"batch_expiry"`
	} `json:"part_2"`
	Part3 Insight `json:"part_3"`
}

// SiteDashboard builds the fleet dashboard for a site code.
func (s *Service) SiteDashboard(ctx context.Context, siteCode string) (Dashboard, error) {
	if siteCode == "" {
		return Dashboard{}, domainError(http.StatusBadRequest, "INVALID_QUERY", "site_code parameter is required", nil)
	}
	accountName := "Amazon " + siteCode

	snapshot, err := s.gateway.AccountDashboard(ctx, accountName)
	if errors.Is(err, crm.ErrNotFound) {
		return Dashboard{}, domainError(http.StatusNotFound, "ACCOUNT_NOT_FOUND",
			fmt.Sprintf("Account %q not found", accountName), nil)
	}
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard: %w", err)
	}

	var dashboard Dashboard
	dashboard.Part1.Order = snapshot.OpenOrders
	dashboard.Part1.Quotes = snapshot.OpenQuotes

	dashboard.Part2.ProductSummary = []ProductCount{}
	for _, pt := range productTypes {
		qty := snapshot.Fields[pt.field]
		if qty > 0 {
			dashboard.Part2.ProductSummary = append(dashboard.Part2.ProductSummary, ProductCount{Type: pt.label, Quantity: qty})
		}
	}

	currentYear := time.Now().Year()
	dashboard.Part2.BatchExpiry = []ExpiryBucket{}
	for year := 2025; year <= 2029; year++ {
		qty := snapshot.Fields[fmt.Sprintf("Battery_Expiration_%d__c", year)]
		status := "good"
		if year == currentYear && qty > 0 {
			status = "upgrade"
		}
		dashboard.Part2.BatchExpiry = append(dashboard.Part2.BatchExpiry, ExpiryBucket{Year: year, Quantity: qty, Status: status})
	}

	dashboard.Part3 = Insight{Text: "No Batteries To Replace", Type: "positive"}
	for _, bucket := range dashboard.Part2.BatchExpiry {
		if bucket.Year == currentYear && bucket.Status == "upgrade" {
			qty := bucket.Quantity
			dashboard.Part3 = Insight{Text: "Batteries Expiring Soon", Quantity: &qty, Type: "alert"}
			break
		}
	}

	return dashboard, nil
}

// UpdateAddressPayload is a direct shipping-address edit from the portal
// account page.
type UpdateAddressPayload struct {
	AccountName  string `json:"account_name"`
	SiteCode     string `json:"site_code"`
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zip          string `json:"zip"`
	Country      string `json:"country"`
}

// UpdateAddress patches only the provided shipping fields on the account.
func (s *Service) UpdateAddress(ctx context.Context, payload UpdateAddressPayload) error {
	accountName := payload.AccountName
	if accountName == "" {
		accountName = payload.SiteCode
	}
	if accountName == "" {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "account_name or site_code is required", nil)
	}

	fields := map[string]any{}
	street := payload.AddressLine1
	if payload.AddressLine2 != "" {
		street += "\n" + payload.AddressLine2
	}
	if street != "" {
		fields["ShippingStreet"] = street
	}
	if payload.City != "" {
		fields["ShippingCity"] = payload.City
	}
	if payload.State != "" {
		fields["ShippingState"] = payload.State
	}
	if payload.Zip != "" {
		fields["ShippingPostalCode"] = payload.Zip
	}
	if payload.Country != "" {
		fields["ShippingCountry"] = payload.Country
	}
	if len(fields) == 0 {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "no address fields provided", nil)
	}

	accountID, err := s.gateway.FindAccountIDByName(ctx, accountName)
	if errors.Is(err, crm.ErrNotFound) {
		return domainError(http.StatusNotFound, "ACCOUNT_NOT_FOUND",
			fmt.Sprintf("Account %q not found", accountName), nil)
	}
	if err != nil {
		return fmt.Errorf("update address: %w", err)
	}

	if err := s.gateway.PatchAccountShipping(ctx, accountID, fields); err != nil {
		return fmt.Errorf("update address: %w", err)
	}

	s.notify.AddressChanged(accountName, crm.Address{
		Street:     street,
		City:       payload.City,
		State:      payload.State,
		PostalCode: payload.Zip,
		Country:    payload.Country,
	})
	return nil
}

// MemberUpdatePayload is a portal profile edit pushed back to the
// membership platform.
type MemberUpdatePayload struct {
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	JobTitle   string `json:"jobTitle"`
	AmazonSite string `json:"amazonSite"`
}

// UpdateMember pushes profile fields to the membership platform and returns
// the member id.
func (s *Service) UpdateMember(ctx context.Context, payload MemberUpdatePayload) (string, error) {
	if payload.Email == "" {
		return "", domainError(http.StatusBadRequest, "INVALID_BODY", "email is required", nil)
	}
	if s.members == nil || !s.members.IsConfigured() {
		return "", domainError(http.StatusServiceUnavailable, "MEMBERS_UNAVAILABLE", "Membership service not configured", nil)
	}

	memberID, err := s.members.UpdateMember(ctx, payload.Email, portal.MemberFields{
		FirstName:  payload.FirstName,
		LastName:   payload.LastName,
		JobTitle:   payload.JobTitle,
		AmazonSite: payload.AmazonSite,
	})
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return "", domainError(http.StatusNotFound, "MEMBER_NOT_FOUND", "Member not found", nil)
		}
		return "", fmt.Errorf("update member: %w", err)
	}
	return memberID, nil
}

// SearchSites returns site names matching the query.
func (s *Service) SearchSites(q string) []string {
	return s.sites.Search(q)
}

// splitStreet divides a street line into the checkout form's two address
// fields, word-wise. The first line takes the extra word on odd counts.
func splitStreet(street string) (string, string) {
	words := strings.Fields(street)
	if len(words) == 0 {
		return "", ""
	}
	half := (len(words) + 1) / 2
	address1 := strings.Join(words[:half], " ")
	address2 := ""
	if len(words) > half {
		address2 = strings.Join(words[half:], " ")
	}
	return address1, address2
}

func formatAddress(a crm.Address) string {
	var parts []string
	if a.Street != "" {
		parts = append(parts, a.Street)
	}
	if a.City != "" {
		locality := a.City
		if a.State != "" {
			locality += ", " + a.State
		}
		if a.PostalCode != "" {
			locality += " " + a.PostalCode
		}
		parts = append(parts, locality)
	}
	return strings.Join(parts, "\n")
}
