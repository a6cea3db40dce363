package resendnotify

import (
	"html/template"
	texttemplate "text/template"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

type emailTemplate struct {
	subject *texttemplate.Template
	html    *template.Template
}

var templates = map[billing.TemplateType]emailTemplate{
	billing.TemplateSubscriptionCreated: {
		subject: texttemplate.Must(texttemplate.New("subject").Parse(
			`Your {{.OrganizationName}} subscription is active`)),
		html: template.Must(template.New("html").Parse(`<p>Hi {{.UserName}},</p>
<p>Thanks for subscribing. The subscription for <strong>{{.OrganizationName}}</strong> is now active.</p>
{{if .AppURL}}<p>You can manage your plan at any time from <a href="{{.AppURL}}">your billing settings</a>.</p>{{end}}`)),
	},
	billing.TemplatePaymentFailed: {
		subject: texttemplate.Must(texttemplate.New("subject").Parse(
			`Payment failed for {{.OrganizationName}}`)),
		html: template.Must(template.New("html").Parse(`<p>Hi {{.UserName}},</p>
<p>We could not collect the latest payment for <strong>{{.OrganizationName}}</strong>.</p>
{{if .InvoiceURL}}<p>Please <a href="{{.InvoiceURL}}">review the invoice</a> and update your payment method.</p>{{end}}
{{if .AppURL}}<p>Billing settings: <a href="{{.AppURL}}">{{.AppURL}}</a></p>{{end}}`)),
	},
}
