// Package crm exposes typed operations over the Salesforce data model used
// by the portal: accounts, contacts, relations, products, quotes, orders,
// and shipments.
package crm

import (
	"context"
	"errors"
	"fmt"

	"crmbridge/api/internal/salesforce"
)

// ErrNotFound is returned when a lookup matches no record. Callers decide
// whether that is fatal (account resolution) or skippable (quote lines).
var ErrNotFound = errors.New("record not found")

// restClient is the slice of the Salesforce client the gateway needs.
type restClient interface {
	Query(ctx context.Context, soql string) (salesforce.QueryResult, error)
	Create(ctx context.Context, object string, fields map[string]any) (string, error)
	Update(ctx context.Context, object, id string, fields map[string]any) error
	Delete(ctx context.Context, object, id string) error
	InstanceURL(ctx context.Context) (string, error)
}

// Defaults are org-specific record ids stamped onto created records.
type Defaults struct {
	ParentAccountID string
	SalesRepID      string
	OwnerID         string
}

type Gateway struct {
	client   restClient
	defaults Defaults
}

func NewGateway(client restClient, defaults Defaults) *Gateway {
	return &Gateway{client: client, defaults: defaults}
}

const pageSize = 5

// dashboardFields are the fleet-count and battery-expiry columns read for
// the site dashboard.
var dashboardFields = []string{
	"Battery_Blade_Connector_Count__c", "Battery_POGO_Connector_Count__c",
	"Charger_Blade_Connector_Count__c", "Charger_POGO_Connector_Count__c",
	"Controller_Blade_Connector_Count__c", "Controller_POGO_Connector_Count__c",
	"DTG_Retrofit_Kit_Count__c", "PS_Security_Cart_Count__c",
	"PS_Slam_Cart_Count__c", "PS_Cart_Count__c", "PS_Loss_Prevention_Cart_Count__c",
	"Battery_Expiration_2022__c", "Battery_Expiration_2023__c",
	"Battery_Expiration_2024__c", "Battery_Expiration_2025__c",
	"Battery_Expiration_2026__c", "Battery_Expiration_2027__c",
	"Battery_Expiration_2028__c", "Battery_Expiration_2029__c",
}

// FindAccountByName looks up an account with its shipping address.
func (g *Gateway) FindAccountByName(ctx context.Context, name string) (Account, error) {
	soql := fmt.Sprintf(
		"SELECT Id, ShippingStreet, ShippingCity, ShippingState, ShippingPostalCode, ShippingCountry FROM Account WHERE Name = '%s' LIMIT 1",
		salesforce.QuoteLiteral(name))
	result, err := g.client.Query(ctx, soql)
	if err != nil {
		return Account{}, fmt.Errorf("find account %q: %w", name, err)
	}
	if len(result.Records) == 0 {
		return Account{}, fmt.Errorf("account %q: %w", name, ErrNotFound)
	}
	rec := result.Records[0]
	return Account{
		ID:   stringField(rec, "Id"),
		Name: name,
		Address: Address{
			Street:     stringField(rec, "ShippingStreet"),
			City:       stringField(rec, "ShippingCity"),
			State:      stringField(rec, "ShippingState"),
			PostalCode: stringField(rec, "ShippingPostalCode"),
			Country:    stringField(rec, "ShippingCountry"),
		},
	}, nil
}

func (g *Gateway) FindAccountIDByName(ctx context.Context, name string) (string, error) {
	soql := fmt.Sprintf("SELECT Id FROM Account WHERE Name = '%s' LIMIT 1", salesforce.QuoteLiteral(name))
	result, err := g.client.Query(ctx, soql)
	if err != nil {
		return "", fmt.Errorf("find account id %q: %w", name, err)
	}
	if len(result.Records) == 0 {
		return "", fmt.Errorf("account %q: %w", name, ErrNotFound)
	}
	return stringField(result.Records[0], "Id"), nil
}

// CreateAccount creates a customer-site account with the org defaults.
// Shipping country is forced to US, matching the org's data entry rules.
func (g *Gateway) CreateAccount(ctx context.Context, name string, address Address) (string, error) {
	id, err := g.client.Create(ctx, "Account", map[string]any{
		"Name":               name,
		"ShippingStreet":     address.Street,
		"ShippingCity":       address.City,
		"ShippingState":      address.State,
		"ShippingPostalCode": address.PostalCode,
		"ShippingCountry":    "US",
		"Account_Type__c":    "Customer",
		"Customer_Type__c":   "End User",
		"Status__c":          "Active",
		"Industry":           "Warehouse Logistics",
		"Potential__c":       "High",
		"ParentId":           g.defaults.ParentAccountID,
		"AccountSource":      "Website",
		"Type":               "Customer",
	})
	if err != nil {
		return "", fmt.Errorf("create account %q: %w", name, err)
	}
	return id, nil
}

func (g *Gateway) UpdateAccountAddress(ctx context.Context, accountID string, address Address) error {
	err := g.client.Update(ctx, "Account", accountID, map[string]any{
		"ShippingStreet":     address.Street,
		"ShippingCity":       address.City,
		"ShippingState":      address.State,
		"ShippingPostalCode": address.PostalCode,
		"ShippingCountry":    "US",
	})
	if err != nil {
		return fmt.Errorf("update account address: %w", err)
	}
	return nil
}

// PatchAccountShipping updates only the provided shipping fields.
func (g *Gateway) PatchAccountShipping(ctx context.Context, accountID string, fields map[string]any) error {
	if err := g.client.Update(ctx, "Account", accountID, fields); err != nil {
		return fmt.Errorf("patch account shipping: %w", err)
	}
	return nil
}

func (g *Gateway) FindContactByEmail(ctx context.Context, email string) (Contact, error) {
	soql := fmt.Sprintf("SELECT Id, AccountId FROM Contact WHERE Email = '%s'", salesforce.QuoteLiteral(email))
	result, err := g.client.Query(ctx, soql)
	if err != nil {
		return Contact{}, fmt.Errorf("find contact %q: %w", email, err)
	}
	if result.TotalSize == 0 || len(result.Records) == 0 {
		return Contact{}, fmt.Errorf("contact %q: %w", email, ErrNotFound)
	}
	rec := result.Records[0]
	return Contact{
		ID:               stringField(rec, "Id"),
		PrimaryAccountID: stringField(rec, "AccountId"),
	}, nil
}

// CreateContact creates a portal contact with the org's default
// classification fields.
func (g *Gateway) CreateContact(ctx context.Context, fields ContactFields) (string, error) {
	id, err := g.client.Create(ctx, "Contact", map[string]any{
		"FirstName":       fields.FirstName,
		"LastName":        fields.LastName,
		"Email":           fields.Email,
		"AccountId":       fields.PrimaryAccountID,
		"Department__c":   "Sales",
		"Status__c":       "Prospect",
		"Contact_Type__c": "End User",
		"LeadSource":      "Website",
		"OwnerId":         g.defaults.OwnerID,
	})
	if err != nil {
		return "", fmt.Errorf("create contact %q: %w", fields.Email, err)
	}
	return id, nil
}

func (g *Gateway) UpdateContact(ctx context.Context, contactID, firstName, lastName string) error {
	err := g.client.Update(ctx, "Contact", contactID, map[string]any{
		"FirstName": firstName,
		"LastName":  lastName,
	})
	if err != nil {
		return fmt.Errorf("update contact %s: %w", contactID, err)
	}
	return nil
}

func (g *Gateway) ListRelationsForContact(ctx context.Context, contactID string) ([]Relation, error) {
	soql := fmt.Sprintf("SELECT Id, AccountId FROM AccountContactRelation WHERE ContactId = '%s'", salesforce.QuoteLiteral(contactID))
	result, err := g.client.Query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("list relations for %s: %w", contactID, err)
	}
	relations := make([]Relation, 0, len(result.Records))
	for _, rec := range result.Records {
		relations = append(relations, Relation{
			ID:        stringField(rec, "Id"),
			AccountID: stringField(rec, "AccountId"),
		})
	}
	return relations, nil
}

func (g *Gateway) CreateRelation(ctx context.Context, contactID, accountID string) (string, error) {
	id, err := g.client.Create(ctx, "AccountContactRelation", map[string]any{
		"AccountId": accountID,
		"ContactId": contactID,
	})
	if err != nil {
		return "", fmt.Errorf("create relation %s->%s: %w", contactID, accountID, err)
	}
	return id, nil
}

func (g *Gateway) DeleteRelation(ctx context.Context, relationID string) error {
	if err := g.client.Delete(ctx, "AccountContactRelation", relationID); err != nil {
		return fmt.Errorf("delete relation %s: %w", relationID, err)
	}
	return nil
}

func (g *Gateway) FindProductIDByPartNumber(ctx context.Context, partNumber string) (string, error) {
	soql := fmt.Sprintf("SELECT Id FROM gii__Product2Add__c WHERE Name = '%s' LIMIT 1", salesforce.QuoteLiteral(partNumber))
	result, err := g.client.Query(ctx, soql)
	if err != nil {
		return "", fmt.Errorf("find product %q: %w", partNumber, err)
	}
	if len(result.Records) == 0 {
		return "", fmt.Errorf("product %q: %w", partNumber, ErrNotFound)
	}
	return stringField(result.Records[0], "Id"), nil
}

func (g *Gateway) GetProductDetails(ctx context.Context, productID string) (Product, error) {
	soql := fmt.Sprintf(
		"SELECT Name, Amazon_Price__c, gii__Description__c FROM gii__Product2Add__c WHERE Id = '%s' LIMIT 1",
		salesforce.QuoteLiteral(productID))
	result, err := g.client.Query(ctx, soql)
	if err != nil {
		return Product{}, fmt.Errorf("get product %s: %w", productID, err)
	}
	if len(result.Records) == 0 {
		return Product{}, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	rec := result.Records[0]
	return Product{
		ID:          productID,
		Name:        stringField(rec, "Name"),
		Price:       floatField(rec, "Amazon_Price__c"),
		Description: stringField(rec, "gii__Description__c"),
	}, nil
}

// CreateQuote creates a sales quote with status Open and the portal request
// key stamped on it.
func (g *Gateway) CreateQuote(ctx context.Context, accountID, quoteName, portalKey string) (string, error) {
	id, err := g.client.Create(ctx, "gii__SalesQuote__c", map[string]any{
		"gii__Account__c":             accountID,
		"Quote_Name__c":               quoteName,
		"gii__Status__c":              "Open",
		"gii__SalesRepresentative__c": g.defaults.SalesRepID,
		"OwnerId":                     g.defaults.OwnerID,
		"Portal_Request__c":           portalKey,
	})
	if err != nil {
		return "", fmt.Errorf("create quote: %w", err)
	}
	return id, nil
}

func (g *Gateway) GetQuoteHeader(ctx context.Context, quoteID string) (QuoteHeader, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Name, gii__Status__c, gii__QuoteDate__c FROM gii__SalesQuote__c WHERE Id = '%s'",
		salesforce.QuoteLiteral(quoteID))
	result, err := g.client.Query(ctx, soql)
	if err != nil {
		return QuoteHeader{}, fmt.Errorf("get quote %s: %w", quoteID, err)
	}
	if len(result.Records) == 0 {
		return QuoteHeader{}, fmt.Errorf("quote %s: %w", quoteID, ErrNotFound)
	}
	return quoteHeaderFromRecord(result.Records[0]), nil
}

func (g *Gateway) CreateQuoteLine(ctx context.Context, quoteID, productID string, quantity int) (string, error) {
	id, err := g.client.Create(ctx, "gii__SalesQuoteLine__c", map[string]any{
		"gii__SalesQuote__c":    quoteID,
		"gii__Product__c":       productID,
		"gii__OrderQuantity__c": quantity,
	})
	if err != nil {
		return "", fmt.Errorf("create quote line: %w", err)
	}
	return id, nil
}

func (g *Gateway) ListQuoteLines(ctx context.Context, quoteID string) ([]Line, error) {
	soql := fmt.Sprintf(
		"SELECT Id, gii__Product__c, gii__OrderQuantity__c FROM gii__SalesQuoteLine__c WHERE gii__SalesQuote__c = '%s'",
		salesforce.QuoteLiteral(quoteID))
	return g.queryLines(ctx, soql)
}

func (g *Gateway) ListQuotesForAccount(ctx context.Context, accountID string, page int) ([]QuoteHeader, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Name, gii__Status__c, gii__QuoteDate__c FROM gii__SalesQuote__c WHERE gii__Account__c = '%s' ORDER BY gii__QuoteDate__c DESC LIMIT %d OFFSET %d",
		salesforce.QuoteLiteral(accountID), pageSize, offset(page))
	result, err := g.client.Query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	quotes := make([]QuoteHeader, 0, len(result.Records))
	for _, rec := range result.Records {
		quotes = append(quotes, quoteHeaderFromRecord(rec))
	}
	return quotes, nil
}

// QuoteStats returns total and open quote counts for an account.
func (g *Gateway) QuoteStats(ctx context.Context, accountID string) (total, open int, err error) {
	return g.countStats(ctx, "gii__SalesQuote__c", accountID)
}

func (g *Gateway) ListOrdersForAccount(ctx context.Context, accountID string, page int) ([]Order, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Name, gii__Status__c, gii__OrderType__c, gii__OrderStatus__c, gii__SalesQuote__c, gii__SalesQuote__r.Quote_Name__c, gii__OrderDate__c FROM gii__SalesOrder__c WHERE gii__Account__c = '%s' ORDER BY gii__OrderDate__c DESC LIMIT %d OFFSET %d",
		salesforce.QuoteLiteral(accountID), pageSize, offset(page))
	result, err := g.client.Query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders := make([]Order, 0, len(result.Records))
	for _, rec := range result.Records {
		order := Order{
			ID:        stringField(rec, "Id"),
			Name:      stringField(rec, "Name"),
			Status:    stringField(rec, "gii__Status__c"),
			QuoteID:   stringField(rec, "gii__SalesQuote__c"),
			OrderDate: stringField(rec, "gii__OrderDate__c"),
		}
		if related, ok := rec["gii__SalesQuote__r"].(map[string]any); ok {
			order.QuoteName = stringField(related, "Quote_Name__c")
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (g *Gateway) ListOrderLines(ctx context.Context, orderID string) ([]Line, error) {
	soql := fmt.Sprintf(
		"SELECT Id, gii__Product__c, gii__OrderQuantity__c FROM gii__SalesOrderLine__c WHERE gii__SalesOrder__c = '%s'",
		salesforce.QuoteLiteral(orderID))
	return g.queryLines(ctx, soql)
}

// OrderStats returns total and open order counts for an account.
func (g *Gateway) OrderStats(ctx context.Context, accountID string) (total, open int, err error) {
	return g.countStats(ctx, "gii__SalesOrder__c", accountID)
}

func (g *Gateway) ListShipmentsForOrder(ctx context.Context, orderID string) ([]Shipment, error) {
	soql := fmt.Sprintf(
		"SELECT Id, gii__TrackingLink__c, gii__ShipmentStatus__c FROM gii__Shipment__c WHERE gii__SalesOrder__c = '%s'",
		salesforce.QuoteLiteral(orderID))
	result, err := g.client.Query(ctx, soql)
	if err != nil {
		// shipments are decoration on the order listing, not load-bearing
		return []Shipment{}, nil
	}
	shipments := make([]Shipment, 0, len(result.Records))
	for _, rec := range result.Records {
		shipments = append(shipments, Shipment{
			TrackingLink:   stringField(rec, "gii__TrackingLink__c"),
			ShipmentStatus: stringField(rec, "gii__ShipmentStatus__c"),
		})
	}
	return shipments, nil
}

// AccountDashboard reads the fleet-count columns plus open order and quote
// totals for a site account.
func (g *Gateway) AccountDashboard(ctx context.Context, accountName string) (FleetSnapshot, error) {
	fieldList := ""
	for i, f := range dashboardFields {
		if i > 0 {
			fieldList += ", "
		}
		fieldList += f
	}
	soql := fmt.Sprintf("SELECT %s FROM Account WHERE Name = '%s'", fieldList, salesforce.QuoteLiteral(accountName))
	result, err := g.client.Query(ctx, soql)
	if err != nil {
		return FleetSnapshot{}, fmt.Errorf("dashboard query: %w", err)
	}
	if len(result.Records) == 0 {
		return FleetSnapshot{}, fmt.Errorf("account %q: %w", accountName, ErrNotFound)
	}

	snapshot := FleetSnapshot{Fields: make(map[string]float64, len(dashboardFields))}
	for _, f := range dashboardFields {
		snapshot.Fields[f] = floatField(result.Records[0], f)
	}

	openOrders, err := g.countOpenByName(ctx, "gii__SalesOrder__c", accountName)
	if err != nil {
		return FleetSnapshot{}, err
	}
	openQuotes, err := g.countOpenByName(ctx, "gii__SalesQuote__c", accountName)
	if err != nil {
		return FleetSnapshot{}, err
	}
	snapshot.OpenOrders = openOrders
	snapshot.OpenQuotes = openQuotes
	return snapshot, nil
}

// QuoteLink builds the Lightning record link for a quote.
func (g *Gateway) QuoteLink(ctx context.Context, quoteID string) (string, error) {
	instanceURL, err := g.client.InstanceURL(ctx)
	if err != nil {
		return "", fmt.Errorf("quote link: %w", err)
	}
	return fmt.Sprintf("%s/lightning/r/gii__SalesQuote__c/%s/view", instanceURL, quoteID), nil
}

func (g *Gateway) queryLines(ctx context.Context, soql string) ([]Line, error) {
	result, err := g.client.Query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	lines := make([]Line, 0, len(result.Records))
	for _, rec := range result.Records {
		lines = append(lines, Line{
			ID:        stringField(rec, "Id"),
			ProductID: stringField(rec, "gii__Product__c"),
			Quantity:  floatField(rec, "gii__OrderQuantity__c"),
		})
	}
	return lines, nil
}

func (g *Gateway) countStats(ctx context.Context, object, accountID string) (total, open int, err error) {
	totalResult, err := g.client.Query(ctx, fmt.Sprintf(
		"SELECT COUNT() FROM %s WHERE gii__Account__c = '%s'", object, salesforce.QuoteLiteral(accountID)))
	if err != nil {
		return 0, 0, fmt.Errorf("count %s: %w", object, err)
	}
	openResult, err := g.client.Query(ctx, fmt.Sprintf(
		"SELECT COUNT() FROM %s WHERE gii__Account__c = '%s' AND gii__Status__c = 'Open'", object, salesforce.QuoteLiteral(accountID)))
	if err != nil {
		return 0, 0, fmt.Errorf("count open %s: %w", object, err)
	}
	return totalResult.TotalSize, openResult.TotalSize, nil
}

func (g *Gateway) countOpenByName(ctx context.Context, object, accountName string) (int, error) {
	result, err := g.client.Query(ctx, fmt.Sprintf(
		"SELECT COUNT() FROM %s WHERE gii__Account__r.Name = '%s' AND gii__Status__c = 'Open'", object, salesforce.QuoteLiteral(accountName)))
	if err != nil {
		return 0, fmt.Errorf("count open %s: %w", object, err)
	}
	return result.TotalSize, nil
}

func quoteHeaderFromRecord(rec map[string]any) QuoteHeader {
	return QuoteHeader{
		ID:     stringField(rec, "Id"),
		Name:   stringField(rec, "Name"),
		Status: stringField(rec, "gii__Status__c"),
		Date:   stringField(rec, "gii__QuoteDate__c"),
	}
}

func stringField(rec map[string]any, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

func floatField(rec map[string]any, key string) float64 {
	switch v := rec[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f
		}
	}
	return 0
}

func offset(page int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}
