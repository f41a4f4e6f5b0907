// Package email renders and delivers order notification emails.
package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

const (
	TemplateOrderConfirmed = "order_confirmed"
	TemplateStatusChanged  = "order_status_changed"
)

// OrderInfo is the data every order template renders from. Money fields are
// preformatted.
type OrderInfo struct {
	OrderNumber     string
	CustomerName    string
	CustomerEmail   string
	StoreName       string
	StoreURL        string
	Status          string
	StatusLabel     string
	PaymentMethod   string
	Reason          string
	TrackingNumber  string
	TrackingCarrier string
	TrackingURL     string
	ShippingAddress string
	OrderDate       string
	Items           []OrderItem
	Subtotal        string
	Shipping        string
	Tax             string
	Total           string
}

type OrderItem struct {
	Name       string
	SKU        string
	Quantity   int
	UnitPrice  string
	TotalPrice string
}

type emailTemplate struct {
	subject string
	text    string
	html    string
}

var templates = map[string]emailTemplate{
	TemplateOrderConfirmed: {
		subject: "Order #{{.OrderNumber}} confirmed - {{.StoreName}}",
		text:    orderConfirmedText,
		html:    orderConfirmedHTML,
	},
	TemplateStatusChanged: {
		subject: "Order #{{.OrderNumber}} is {{.StatusLabel}} - {{.StoreName}}",
		text:    statusChangedText,
		html:    statusChangedHTML,
	},
}

// Renderer renders the built-in order templates.
type Renderer struct {
	subjects *template.Template
	text     *template.Template
	html     *htmltemplate.Template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		subjects: template.New("subjects"),
		text:     template.New("text"),
		html:     htmltemplate.New("html"),
	}
	for name, t := range templates {
		if _, err := r.subjects.New(name).Parse(t.subject); err != nil {
			return nil, fmt.Errorf("failed to parse subject template %s: %w", name, err)
		}
		if _, err := r.text.New(name).Parse(t.text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", name, err)
		}
		if _, err := r.html.New(name).Parse(t.html); err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", name, err)
		}
	}
	return r, nil
}

func (r *Renderer) Render(templateName string, data *OrderInfo) (*Email, error) {
	if data == nil {
		return nil, fmt.Errorf("order info is required")
	}
	if _, ok := templates[templateName]; !ok {
		return nil, fmt.Errorf("unknown email template %q", templateName)
	}

	var subject, text, html bytes.Buffer
	if err := r.subjects.ExecuteTemplate(&subject, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := r.text.ExecuteTemplate(&text, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}
	if err := r.html.ExecuteTemplate(&html, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}

	return &Email{
		To:      data.CustomerEmail,
		Subject: subject.String(),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

const orderConfirmedText = `Thank you for your order{{if .CustomerName}}, {{.CustomerName}}{{end}}!

Order Number: #{{.OrderNumber}}
Order Date: {{.OrderDate}}
Payment: {{.PaymentMethod}}

Items:
{{range .Items}}- {{.Name}} ({{.SKU}}) x{{.Quantity}} - {{.TotalPrice}}
{{end}}
Subtotal: {{.Subtotal}}
Shipping: {{.Shipping}}
Tax: {{.Tax}}
Total: {{.Total}}

Shipping to:
{{.ShippingAddress}}

We'll email you again when your order ships.
{{.StoreURL}}
`

const orderConfirmedHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Order Confirmed</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #2563eb; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    table { width: 100%; border-collapse: collapse; margin: 15px 0; }
    th { text-align: left; padding: 8px; background: #f3f4f6; }
    td { padding: 8px; border-bottom: 1px solid #e5e7eb; }
    .total { font-weight: bold; text-align: right; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Order #{{.OrderNumber}} confirmed</h1>
  </div>
  <div class="content">
    <p>Placed {{.OrderDate}}, paid by {{.PaymentMethod}}.</p>
    <table>
      <thead><tr><th>Item</th><th>Qty</th><th>Price</th></tr></thead>
      <tbody>
        {{range .Items}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.TotalPrice}}</td></tr>{{end}}
      </tbody>
    </table>
    <p class="total">Subtotal {{.Subtotal}}<br>Shipping {{.Shipping}}<br>Tax {{.Tax}}<br>Total {{.Total}}</p>
    <p>Shipping to: {{.ShippingAddress}}</p>
  </div>
  <p><a href="{{.StoreURL}}">{{.StoreName}}</a></p>
</body>
</html>
`

const statusChangedText = `Your order #{{.OrderNumber}} is now {{.StatusLabel}}.
{{if .Reason}}
Reason: {{.Reason}}
{{end}}{{if .TrackingNumber}}
Carrier: {{.TrackingCarrier}}
Tracking Number: {{.TrackingNumber}}
{{if .TrackingURL}}Track your package: {{.TrackingURL}}
{{end}}{{end}}
Order total: {{.Total}}

{{.StoreName}}
{{.StoreURL}}
`

const statusChangedHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Order Update</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #059669; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Order #{{.OrderNumber}} is {{.StatusLabel}}</h1>
  </div>
  <div class="content">
    {{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}
    {{if .TrackingNumber}}
    <p><strong>{{.TrackingCarrier}}</strong> {{.TrackingNumber}}</p>
    {{if .TrackingURL}}<p><a href="{{.TrackingURL}}">Track your package</a></p>{{end}}
    {{end}}
    <p>Order total: {{.Total}}</p>
  </div>
  <p><a href="{{.StoreURL}}">{{.StoreName}}</a></p>
</body>
</html>
`
