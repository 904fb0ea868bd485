package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("notification").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return buf.String(), nil
}

const quoteCreatedTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #111; padding-bottom: 10px; margin-bottom: 20px; }
        table { border-collapse: collapse; }
        td { padding: 4px 12px 4px 0; }
        .label { color: #666; }
        .flag { background: #fff3cd; padding: 8px 12px; border-radius: 4px; margin: 16px 0; }
    </style>
</head>
<body>
    <div class="header"><h2>New Quote Request</h2></div>
    <table>
        <tr><td class="label">Quote</td><td>{{.QuoteName}}</td></tr>
        <tr><td class="label">Account</td><td>{{.AccountName}}</td></tr>
        <tr><td class="label">Requested by</td><td>{{.Email}}</td></tr>
        <tr><td class="label">Reference</td><td>{{.PortalKey}}</td></tr>
    </table>
    {{if .AddressChanged}}<div class="flag">The shipping address on this account was updated with this request.</div>{{end}}
    {{if .Link}}<p><a href="{{.Link}}">Open in Salesforce</a></p>{{end}}
</body>
</html>`

const quotePDFTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body>
    <p>Quotation for <strong>{{.AccountName}}</strong> is attached.</p>
    <p>Requested by {{.Email}} (reference {{.PortalKey}}).</p>
    {{if .Link}}<p><a href="{{.Link}}">Open in Salesforce</a></p>{{end}}
</body>
</html>`

const contactCreatedTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body>
    <p>A new portal contact was created.</p>
    <p><strong>{{.Email}}</strong> (contact {{.ContactID}}), primary account {{.AccountName}}.</p>
</body>
</html>`

const addressChangedTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body>
    <p>The shipping address for <strong>{{.AccountName}}</strong> was updated from the portal:</p>
    <p>{{.Street}}<br>{{.City}}, {{.State}} {{.PostalCode}}</p>
</body>
</html>`

const accountRequestTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body>
    <p>A quote request came in for an account we had no record of, so it was created:</p>
    <p><strong>{{.AccountName}}</strong>, requested by {{.Email}}.</p>
    <p>Review the new account's classification and ownership.</p>
</body>
</html>`
