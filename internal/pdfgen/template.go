// Package pdfgen renders a sales quotation as HTML and converts it to a
// Letter-size PDF with headless Chrome.
package pdfgen

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// QuoteLine is one rendered item row.
type QuoteLine struct {
	Description string
	PartNumber  string
	Quantity    float64
	UnitPrice   float64
}

// QuoteDocument is the data behind one quotation PDF.
type QuoteDocument struct {
	QuoteNumber     string
	QuoteDate       string
	CustomerName    string
	Status          string
	ShippingAddress string
	Lines           []QuoteLine
	Notes           string
}

// Total sums the extended prices of all lines.
func (d QuoteDocument) Total() float64 {
	total := 0.0
	for _, line := range d.Lines {
		total += line.Quantity * line.UnitPrice
	}
	return total
}

// Money formats a dollar amount with thousands separators, e.g. $2,183.00.
func Money(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	whole := fmt.Sprintf("%.2f", amount)
	dot := strings.Index(whole, ".")
	intPart, fracPart := whole[:dot], whole[dot:]

	var b strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	sign := ""
	if negative {
		sign = "-"
	}
	return sign + "$" + b.String() + fracPart
}

func quantity(q float64) string {
	if q == float64(int64(q)) {
		return fmt.Sprintf("%.0f", q)
	}
	return fmt.Sprintf("%g", q)
}

// RenderHTML renders the quotation document to the HTML page the PDF is
// printed from.
func RenderHTML(doc QuoteDocument) (string, error) {
	var buf bytes.Buffer
	if err := quoteTemplate.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("render quotation: %w", err)
	}
	return buf.String(), nil
}

var quoteTemplate = template.Must(template.New("quotation").Funcs(template.FuncMap{
	"money": Money,
	"qty":   quantity,
	"ext": func(line QuoteLine) string {
		return Money(line.Quantity * line.UnitPrice)
	},
	"multiline": func(s string) template.HTML {
		escaped := template.HTMLEscapeString(s)
		return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.QuoteNumber}}</title>
    <style>
        body { font-family: Helvetica, Arial, sans-serif; font-size: 11px; color: #111; margin: 0; }
        .header { display: flex; justify-content: space-between; align-items: flex-start; }
        .header h1 { font-size: 26px; font-weight: normal; margin: 0; text-align: right; }
        .header .meta { text-align: right; }
        .header .meta .number { font-weight: bold; }
        .header .meta .date { color: #777; font-size: 9px; }
        .company { line-height: 1.5; margin: 8px 0 16px; }
        table { width: 100%; border-collapse: collapse; margin-bottom: 12px; }
        th { background: #000; color: #fff; text-align: left; padding: 4px 6px; }
        td { border: 1px solid #000; padding: 4px 6px; vertical-align: top; }
        .num { text-align: right; }
        .qty { text-align: center; }
        .total-row td { border: none; }
        .total-row .label, .total-row .amount { border: 1px solid #000; font-weight: bold; text-align: right; }
        .notes { border: 1px solid #000; padding: 6px; }
    </style>
</head>
<body>
    <div class="header">
        <div class="brand"><strong>DTG</strong></div>
        <div class="meta">
            <h1>Quotation</h1>
            <div class="number">{{.QuoteNumber}}</div>
            <div class="date">{{.QuoteDate}}</div>
        </div>
    </div>

    <div class="company">35 Upton Dr<br>Wilmington, MA 01887<br>978-532-0444</div>

    <table>
        <tr><th style="width:22%">Customer</th><th style="width:18%">Status</th><th>Ship To</th></tr>
        <tr><td>{{.CustomerName}}</td><td>{{.Status}}</td><td>{{multiline .ShippingAddress}}</td></tr>
    </table>

    <table>
        <tr>
            <th style="width:48%">Description</th>
            <th style="width:20%">Part #</th>
            <th style="width:8%">QTY</th>
            <th style="width:12%">Unit Price</th>
            <th style="width:12%">Ext Price</th>
        </tr>
        {{range .Lines}}
        <tr>
            <td>{{.Description}}</td>
            <td>{{.PartNumber}}</td>
            <td class="qty">{{qty .Quantity}}</td>
            <td class="num">{{money .UnitPrice}}</td>
            <td class="num">{{ext .}}</td>
        </tr>
        {{end}}
        <tr class="total-row">
            <td colspan="3"></td>
            <td class="label">Total</td>
            <td class="amount">{{money .Total}}</td>
        </tr>
    </table>

    {{if .Notes}}
    <p><strong>Notes:</strong></p>
    <div class="notes">{{multiline .Notes}}</div>
    {{end}}
</body>
</html>`))
