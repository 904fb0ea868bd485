package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"crmbridge/api/internal/crm"
	"crmbridge/api/internal/pdfgen"
)

type sentMail struct {
	subject  string
	html     string
	filename string
	pdf      []byte
}

type fakeMailer struct {
	mu         sync.Mutex
	configured bool
	sent       []sentMail
	err        error
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func (f *fakeMailer) SendHTMLEmail(to []string, subject, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{subject: subject, html: htmlBody})
	return nil
}

func (f *fakeMailer) SendHTMLEmailWithPDF(to []string, subject, htmlBody, filename string, pdf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{subject: subject, html: htmlBody, filename: filename, pdf: pdf})
	return nil
}

func (f *fakeMailer) mails() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

type fakeQuotes struct{}

func (fakeQuotes) GetQuoteHeader(ctx context.Context, quoteID string) (crm.QuoteHeader, error) {
	return crm.QuoteHeader{ID: quoteID, Name: "SQ-001234", Status: "Open", Date: "2025-08-18"}, nil
}

func (fakeQuotes) ListQuoteLines(ctx context.Context, quoteID string) ([]crm.Line, error) {
	return []crm.Line{
		{ID: "l1", ProductID: "01tPS", Quantity: 3},
		{ID: "l2", ProductID: "01tGONE", Quantity: 1},
	}, nil
}

func (fakeQuotes) GetProductDetails(ctx context.Context, productID string) (crm.Product, error) {
	if productID == "01tGONE" {
		return crm.Product{}, errors.New("product gone")
	}
	return crm.Product{ID: productID, Name: "DTG-PS-001", Price: 2183, Description: "Problem Solver Cart"}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []string
	errs    []error
}

func (f *fakeRecorder) RecordNotification(ctx context.Context, kind, recipient string, sendErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, kind)
	f.errs = append(f.errs, sendErr)
	return nil
}

type fakeArchiver struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeArchiver) ArchiveQuote(accountName, portalKey, html string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, portalKey)
	return "abc1234", nil
}

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeUploader) PutQuotePDF(ctx context.Context, portalKey string, pdf []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, portalKey)
	return "quotes/" + portalKey + ".pdf", nil
}

func testDispatcher(mailer *fakeMailer) *Dispatcher {
	d := New(mailer, fakeQuotes{}, []string{"sales@example.com"}, time.Second)
	d.renderPDF = func(ctx context.Context, doc pdfgen.QuoteDocument) ([]byte, error) {
		return []byte("%PDF fake " + doc.QuoteNumber), nil
	}
	return d
}

func TestQuoteCreatedSendsSummary(t *testing.T) {
	mailer := &fakeMailer{configured: true}
	d := testDispatcher(mailer)

	d.QuoteCreated(QuoteEvent{
		Email:       "jo@example.com",
		AccountName: "Amazon ABQ1",
		QuoteName:   "Test Quote on 18 August 2025 01:17",
		PortalKey:   "jo@example.com_20250818011742123456",
		Link:        "https://org.example/lightning/r/gii__SalesQuote__c/a0Q1/view",
	})
	d.Wait()

	mails := mailer.mails()
	if len(mails) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(mails))
	}
	if !strings.Contains(mails[0].subject, "Test Quote on 18 August 2025 01:17") {
		t.Errorf("unexpected subject: %q", mails[0].subject)
	}
	for _, want := range []string{"Amazon ABQ1", "jo@example.com", "Open in Salesforce"} {
		if !strings.Contains(mails[0].html, want) {
			t.Errorf("summary missing %q", want)
		}
	}
}

func TestQuotePDFAttachesArchivesAndUploads(t *testing.T) {
	mailer := &fakeMailer{configured: true}
	archiver := &fakeArchiver{}
	uploader := &fakeUploader{}
	recorder := &fakeRecorder{}
	d := testDispatcher(mailer).WithRecorder(recorder).WithArchive(archiver, uploader)

	d.QuotePDF(QuoteEvent{
		Email:       "jo@example.com",
		AccountName: "Amazon ABQ1",
		QuoteID:     "a0Q1",
		PortalKey:   "key-1",
	})
	d.Wait()

	mails := mailer.mails()
	if len(mails) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(mails))
	}
	if mails[0].filename != "SQ-001234.pdf" {
		t.Errorf("unexpected attachment name: %q", mails[0].filename)
	}
	if !strings.Contains(string(mails[0].pdf), "SQ-001234") {
		t.Error("pdf should be rendered from the quote header")
	}
	if len(archiver.keys) != 1 || archiver.keys[0] != "key-1" {
		t.Errorf("quote not archived: %v", archiver.keys)
	}
	if len(uploader.keys) != 1 || uploader.keys[0] != "key-1" {
		t.Errorf("pdf not uploaded: %v", uploader.keys)
	}
	if len(recorder.records) != 1 || recorder.records[0] != "quote_pdf" {
		t.Errorf("attempt not recorded: %v", recorder.records)
	}
	if recorder.errs[0] != nil {
		t.Errorf("success should be recorded without error: %v", recorder.errs[0])
	}
}

func TestDispatchFailureIsRecordedNotRaised(t *testing.T) {
	mailer := &fakeMailer{configured: true, err: errors.New("smtp down")}
	recorder := &fakeRecorder{}
	d := testDispatcher(mailer).WithRecorder(recorder)

	d.ContactCreated("jo@example.com", "003CT", "Amazon ABQ1")
	d.Wait()

	if len(recorder.records) != 1 || recorder.records[0] != "contact_created" {
		t.Fatalf("attempt not recorded: %v", recorder.records)
	}
	if recorder.errs[0] == nil || !strings.Contains(recorder.errs[0].Error(), "smtp down") {
		t.Errorf("send error should be recorded: %v", recorder.errs[0])
	}
}

func TestUnconfiguredMailerSkipsDispatch(t *testing.T) {
	mailer := &fakeMailer{configured: false}
	recorder := &fakeRecorder{}
	d := testDispatcher(mailer).WithRecorder(recorder)

	d.AddressChanged("Amazon ABQ1", crm.Address{Street: "100 Main St"})
	d.Wait()

	if len(mailer.mails()) != 0 || len(recorder.records) != 0 {
		t.Error("nothing should be sent or recorded without smtp config")
	}
}

func TestBuildDocumentSkipsMissingProducts(t *testing.T) {
	d := testDispatcher(&fakeMailer{configured: true})

	doc, err := d.buildDocument(context.Background(), QuoteEvent{QuoteID: "a0Q1", AccountName: "Amazon ABQ1"})
	if err != nil {
		t.Fatalf("buildDocument failed: %v", err)
	}
	if doc.QuoteNumber != "SQ-001234" || doc.Status != "Open" {
		t.Errorf("unexpected header: %+v", doc)
	}
	if doc.QuoteDate != "August 18, 2025" {
		t.Errorf("unexpected date: %q", doc.QuoteDate)
	}
	// the line with a missing product is dropped
	if len(doc.Lines) != 1 || doc.Lines[0].PartNumber != "DTG-PS-001" {
		t.Errorf("unexpected lines: %+v", doc.Lines)
	}
}
