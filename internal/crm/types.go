package crm

// Address is an account shipping address.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Account is a customer site record.
type Account struct {
	ID      string
	Name    string
	Address Address
}

// Contact is a portal user record. PrimaryAccountID is the owning account
// foreign key on the contact itself, not a relation row.
type Contact struct {
	ID               string
	PrimaryAccountID string
}

// Relation is an AccountContactRelation join row linking a contact to a
// secondary account.
type Relation struct {
	ID        string
	AccountID string
}

// Product is a sellable part.
type Product struct {
	ID          string
	Name        string
	Price       float64
	Description string
}

// QuoteHeader is the summary view of a sales quote.
type QuoteHeader struct {
	ID     string
	Name   string
	Status string
	Date   string
}

// Line is a quote or order line item.
type Line struct {
	ID        string
	ProductID string
	Quantity  float64
}

// Order is the summary view of a sales order.
type Order struct {
	ID        string
	Name      string
	Status    string
	QuoteID   string
	QuoteName string
	OrderDate string
}

// Shipment carries tracking info for an order.
type Shipment struct {
	TrackingLink   string `json:"tracking_link"`
	ShipmentStatus string `json:"shipment_status"`
}

// FleetSnapshot is the dashboard view of an account: installed product
// counts, battery expiry buckets, and open order/quote totals.
type FleetSnapshot struct {
	Fields     map[string]float64
	OpenOrders int
	OpenQuotes int
}

// ContactFields is the input for creating a contact.
type ContactFields struct {
	FirstName        string
	LastName         string
	Email            string
	PrimaryAccountID string
}
