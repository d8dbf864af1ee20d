package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Receipt describes a completed credit purchase.
type Receipt struct {
	To        string
	Name      string
	PlanName  string
	Credits   int
	Balance   int
	Amount    int64 // minor units
	Currency  string
	SessionID string
	Date      time.Time
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #111;">
  <h2>Thanks for your purchase{{if .Name}}, {{.Name}}{{end}}!</h2>
  <p>Your {{.PlanName}} plan added <strong>{{.Credits}} credits</strong> to your account.</p>
  <table cellpadding="6">
    <tr><td>Amount</td><td>{{.Amount}}</td></tr>
    <tr><td>Date</td><td>{{.Date}}</td></tr>
    <tr><td>Reference</td><td>{{.SessionID}}</td></tr>
    <tr><td>New balance</td><td>{{.Balance}} credits</td></tr>
  </table>
</body>
</html>
`))

// Message renders the receipt email.
func (r Receipt) Message() (Message, error) {
	var buf bytes.Buffer
	err := receiptTemplate.Execute(&buf, map[string]any{
		"Name":      r.Name,
		"PlanName":  r.PlanName,
		"Credits":   r.Credits,
		"Balance":   r.Balance,
		"Amount":    FormatAmount(r.Amount, r.Currency),
		"Date":      r.Date.UTC().Format("January 2, 2006"),
		"SessionID": r.SessionID,
	})
	if err != nil {
		return Message{}, fmt.Errorf("render receipt: %w", err)
	}
	return Message{
		To:      r.To,
		Subject: fmt.Sprintf("Your receipt: %d credits", r.Credits),
		Tag:     "receipt",
		HTML:    buf.String(),
	}, nil
}

// FormatAmount renders minor units as a decimal amount with an upper-case
// currency code, e.g. 1900 usd -> "19.00 USD".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency))
}
