// Package quote turns a portal quote request into CRM records: the site
// account, the quote header, and one quote line per resolvable product.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"crmbridge/api/internal/crm"
)

// Gateway is the slice of CRM operations the assembler needs.
type Gateway interface {
	FindAccountByName(ctx context.Context, name string) (crm.Account, error)
	CreateAccount(ctx context.Context, name string, address crm.Address) (string, error)
	UpdateAccountAddress(ctx context.Context, accountID string, address crm.Address) error
	CreateQuote(ctx context.Context, accountID, quoteName, portalKey string) (string, error)
	FindProductIDByPartNumber(ctx context.Context, partNumber string) (string, error)
	CreateQuoteLine(ctx context.Context, quoteID, productID string, quantity int) (string, error)
	QuoteLink(ctx context.Context, quoteID string) (string, error)
}

// LineItem is one requested product row.
type LineItem struct {
	PartNumber string `json:"part_number"`
	Quantity   int    `json:"quantity"`
}

// Request is a portal quote submission.
type Request struct {
	Email       string      `json:"email"`
	AccountName string      `json:"account_name"`
	Address     crm.Address `json:"address"`
	Lines       []LineItem  `json:"line_items"`
}

// Result reports the created quote and what the assembler did along the way.
type Result struct {
	QuoteID        string   `json:"quote_id"`
	QuoteName      string   `json:"quote_name"`
	PortalKey      string   `json:"portal_key"`
	Link           string   `json:"quote_link"`
	AccountID      string   `json:"account_id"`
	AccountCreated bool     `json:"account_created"`
	AddressChanged bool     `json:"address_changed"`
	SkippedParts   []string `json:"skipped_parts,omitempty"`
}

type Assembler struct {
	gateway Gateway
	now     func() time.Time
}

func New(gateway Gateway) *Assembler {
	return &Assembler{gateway: gateway, now: time.Now}
}

// Assemble creates the quote. Account lookup/creation and the quote header
// are sequential and fatal on failure; individual line items are best-effort
// and skipped with a log line when the product cannot be resolved.
func (a *Assembler) Assemble(ctx context.Context, req Request) (Result, error) {
	if req.AccountName == "" {
		return Result{}, fmt.Errorf("account name is required")
	}

	result := Result{}

	account, err := a.gateway.FindAccountByName(ctx, req.AccountName)
	switch {
	case errors.Is(err, crm.ErrNotFound):
		accountID, createErr := a.gateway.CreateAccount(ctx, req.AccountName, req.Address)
		if createErr != nil {
			return Result{}, fmt.Errorf("create account: %w", createErr)
		}
		account = crm.Account{ID: accountID, Name: req.AccountName, Address: req.Address}
		result.AccountCreated = true
	case err != nil:
		return Result{}, fmt.Errorf("find account: %w", err)
	default:
		if addressUsable(req.Address) && addressDiffers(account.Address, req.Address) {
			if err := a.gateway.UpdateAccountAddress(ctx, account.ID, req.Address); err != nil {
				return Result{}, fmt.Errorf("update address: %w", err)
			}
			result.AddressChanged = true
		}
	}
	result.AccountID = account.ID

	now := a.now()
	result.PortalKey = portalKey(req.Email, now)
	result.QuoteName = "Test Quote on " + now.Format("02 January 2006 15:04")

	quoteID, err := a.gateway.CreateQuote(ctx, account.ID, result.QuoteName, result.PortalKey)
	if err != nil {
		return Result{}, fmt.Errorf("create quote: %w", err)
	}
	result.QuoteID = quoteID

	for _, line := range req.Lines {
		productID, err := a.gateway.FindProductIDByPartNumber(ctx, line.PartNumber)
		if err != nil {
			log.Printf("quote %s: skipping part %q: %v", quoteID, line.PartNumber, err)
			result.SkippedParts = append(result.SkippedParts, line.PartNumber)
			continue
		}
		if _, err := a.gateway.CreateQuoteLine(ctx, quoteID, productID, line.Quantity); err != nil {
			log.Printf("quote %s: line for part %q failed: %v", quoteID, line.PartNumber, err)
			result.SkippedParts = append(result.SkippedParts, line.PartNumber)
		}
	}

	link, err := a.gateway.QuoteLink(ctx, quoteID)
	if err != nil {
		// the link is decoration on the response, the quote already exists
		log.Printf("quote %s: link unavailable: %v", quoteID, err)
	}
	result.Link = link

	return result, nil
}

// portalKey is the tracking key stamped onto the quote so the follow-up PDF
// job can find it: the requester's email plus a microsecond timestamp.
func portalKey(email string, now time.Time) string {
	return fmt.Sprintf("%s_%s%06d", email, now.Format("20060102150405"), now.Nanosecond()/1000)
}

// addressUsable rejects obviously incomplete addresses so a sparse portal
// payload never blanks out a real shipping address.
func addressUsable(a crm.Address) bool {
	return len(a.Street) > 5 && len(a.City) >= 2 && len(a.State) >= 2 && len(a.PostalCode) > 2
}

// addressDiffers compares case-insensitively, ignoring surrounding space.
// Country is excluded: it is always written as US.
func addressDiffers(stored, incoming crm.Address) bool {
	if !strings.EqualFold(strings.TrimSpace(stored.Street), strings.TrimSpace(incoming.Street)) {
		return true
	}
	if !strings.EqualFold(strings.TrimSpace(stored.City), strings.TrimSpace(incoming.City)) {
		return true
	}
	if !strings.EqualFold(strings.TrimSpace(stored.State), strings.TrimSpace(incoming.State)) {
		return true
	}
	return strings.TrimSpace(stored.PostalCode) != strings.TrimSpace(incoming.PostalCode)
}
