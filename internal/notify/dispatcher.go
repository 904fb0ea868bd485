// Package notify delivers operational emails after portal operations
// complete: quote summaries, quote PDFs, and contact/account change notices.
// Delivery is fire-and-forget; a failed notification never fails the request
// that triggered it.
package notify

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"crmbridge/api/internal/crm"
	"crmbridge/api/internal/pdfgen"
)

// Mailer is the slice of the email service the dispatcher needs.
type Mailer interface {
	IsConfigured() bool
	SendHTMLEmail(to []string, subject, htmlBody string) error
	SendHTMLEmailWithPDF(to []string, subject, htmlBody, filename string, pdf []byte) error
}

// QuoteReader loads quote details for the PDF notification.
type QuoteReader interface {
	GetQuoteHeader(ctx context.Context, quoteID string) (crm.QuoteHeader, error)
	ListQuoteLines(ctx context.Context, quoteID string) ([]crm.Line, error)
	GetProductDetails(ctx context.Context, productID string) (crm.Product, error)
}

// Recorder logs each notification attempt. May be nil.
type Recorder interface {
	RecordNotification(ctx context.Context, kind, recipient string, sendErr error) error
}

// Archiver commits the rendered quote document to the account's archive.
// May be nil.
type Archiver interface {
	ArchiveQuote(accountName, portalKey, html string) (string, error)
}

// Uploader stores the generated PDF in object storage. May be nil.
type Uploader interface {
	PutQuotePDF(ctx context.Context, portalKey string, pdf []byte) (string, error)
}

// QuoteEvent describes a completed quote request.
type QuoteEvent struct {
	Email           string
	AccountName     string
	QuoteID         string
	QuoteName       string
	PortalKey       string
	Link            string
	ShippingAddress string
	AddressChanged  bool
}

type Dispatcher struct {
	mailer   Mailer
	quotes   QuoteReader
	recorder Recorder
	archiver Archiver
	uploader Uploader

	to      []string
	timeout time.Duration

	// renderPDF is swappable so tests run without a browser.
	renderPDF func(ctx context.Context, doc pdfgen.QuoteDocument) ([]byte, error)

	wg sync.WaitGroup
}

func New(mailer Mailer, quotes QuoteReader, to []string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Dispatcher{
		mailer:    mailer,
		quotes:    quotes,
		to:        to,
		timeout:   timeout,
		renderPDF: pdfgen.GeneratePDF,
	}
}

// WithRecorder attaches a notification log.
func (d *Dispatcher) WithRecorder(recorder Recorder) *Dispatcher {
	d.recorder = recorder
	return d
}

// WithArchive attaches the quote archive and artifact store.
func (d *Dispatcher) WithArchive(archiver Archiver, uploader Uploader) *Dispatcher {
	d.archiver = archiver
	d.uploader = uploader
	return d
}

// Wait blocks until in-flight notifications finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// QuoteCreated sends the quote summary email.
func (d *Dispatcher) QuoteCreated(event QuoteEvent) {
	d.dispatch("quote_created", func(ctx context.Context) error {
		html, err := renderTemplate(quoteCreatedTemplate, event)
		if err != nil {
			return err
		}
		return d.mailer.SendHTMLEmail(d.to, "New Quote Request: "+event.QuoteName, html)
	})
}

// QuotePDF builds the quotation PDF for a created quote and emails it as an
// attachment, archiving both the document and the PDF along the way.
func (d *Dispatcher) QuotePDF(event QuoteEvent) {
	d.dispatch("quote_pdf", func(ctx context.Context) error {
		doc, err := d.buildDocument(ctx, event)
		if err != nil {
			return err
		}

		if d.archiver != nil {
			html, renderErr := pdfgen.RenderHTML(doc)
			if renderErr == nil {
				if _, archiveErr := d.archiver.ArchiveQuote(event.AccountName, event.PortalKey, html); archiveErr != nil {
					log.Printf("notify: archive quote %s: %v", event.PortalKey, archiveErr)
				}
			}
		}

		pdf, err := d.renderPDF(ctx, doc)
		if err != nil {
			return err
		}

		if d.uploader != nil {
			if _, uploadErr := d.uploader.PutQuotePDF(ctx, event.PortalKey, pdf); uploadErr != nil {
				log.Printf("notify: upload quote pdf %s: %v", event.PortalKey, uploadErr)
			}
		}

		html, err := renderTemplate(quotePDFTemplate, event)
		if err != nil {
			return err
		}
		filename := doc.QuoteNumber + ".pdf"
		return d.mailer.SendHTMLEmailWithPDF(d.to, "Quotation "+doc.QuoteNumber, html, filename, pdf)
	})
}

// ContactCreated announces a newly created CRM contact.
func (d *Dispatcher) ContactCreated(email, contactID, accountName string) {
	d.dispatch("contact_created", func(ctx context.Context) error {
		html, err := renderTemplate(contactCreatedTemplate, map[string]string{
			"Email":       email,
			"ContactID":   contactID,
			"AccountName": accountName,
		})
		if err != nil {
			return err
		}
		return d.mailer.SendHTMLEmail(d.to, "New Portal Contact: "+email, html)
	})
}

// AddressChanged announces a shipping address update on an account.
func (d *Dispatcher) AddressChanged(accountName string, address crm.Address) {
	d.dispatch("address_changed", func(ctx context.Context) error {
		html, err := renderTemplate(addressChangedTemplate, map[string]string{
			"AccountName": accountName,
			"Street":      address.Street,
			"City":        address.City,
			"State":       address.State,
			"PostalCode":  address.PostalCode,
		})
		if err != nil {
			return err
		}
		return d.mailer.SendHTMLEmail(d.to, "Address Updated: "+accountName, html)
	})
}

// AccountRequest announces that a quote came in for a previously unknown
// account, which was auto-created.
func (d *Dispatcher) AccountRequest(accountName, email string) {
	d.dispatch("account_request", func(ctx context.Context) error {
		html, err := renderTemplate(accountRequestTemplate, map[string]string{
			"AccountName": accountName,
			"Email":       email,
		})
		if err != nil {
			return err
		}
		return d.mailer.SendHTMLEmail(d.to, "New Account Created: "+accountName, html)
	})
}

// dispatch runs a notification in the background with its own timeout.
// Failures are logged and recorded, never returned to the caller.
func (d *Dispatcher) dispatch(kind string, send func(ctx context.Context) error) {
	if !d.mailer.IsConfigured() || len(d.to) == 0 {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := send(ctx)
		if err != nil {
			log.Printf("notify: %s failed: %v", kind, err)
		}
		if d.recorder != nil {
			if recordErr := d.recorder.RecordNotification(ctx, kind, strings.Join(d.to, ","), err); recordErr != nil {
				log.Printf("notify: record %s: %v", kind, recordErr)
			}
		}
	}()
}

// buildDocument assembles the printable quotation from CRM data. Lines whose
// product details cannot be loaded are dropped with a log line.
func (d *Dispatcher) buildDocument(ctx context.Context, event QuoteEvent) (pdfgen.QuoteDocument, error) {
	header, err := d.quotes.GetQuoteHeader(ctx, event.QuoteID)
	if err != nil {
		return pdfgen.QuoteDocument{}, err
	}
	lines, err := d.quotes.ListQuoteLines(ctx, event.QuoteID)
	if err != nil {
		return pdfgen.QuoteDocument{}, err
	}

	doc := pdfgen.QuoteDocument{
		QuoteNumber:     header.Name,
		QuoteDate:       quoteDate(header.Date),
		CustomerName:    event.AccountName,
		Status:          header.Status,
		ShippingAddress: event.ShippingAddress,
	}
	for _, line := range lines {
		product, err := d.quotes.GetProductDetails(ctx, line.ProductID)
		if err != nil {
			log.Printf("notify: quote %s: product %s: %v", event.QuoteID, line.ProductID, err)
			continue
		}
		doc.Lines = append(doc.Lines, pdfgen.QuoteLine{
			Description: product.Description,
			PartNumber:  product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   product.Price,
		})
	}
	return doc, nil
}

func quoteDate(raw string) string {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.Format("January 02, 2006")
	}
	if raw != "" {
		return raw
	}
	return time.Now().UTC().Format("January 02, 2006")
}
