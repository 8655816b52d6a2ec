package telegramclient

import (
	"encoding/json"
	"html"
	"strings"

	"github.com/nomis52/gosync/logging"
)

// Formatter renders alert records as Telegram HTML:
//
//	<b>shop, prod: sync "import_prices" error</b>
//	<b>Site name:</b> shop
//	<b>Message:</b> unhandled error, sync stopped
//	<b>Channel:</b> import_prices
//	<b>Environment:</b> prod
//	<b>Server:</b> worker-1
//	<b>Time:</b> 2024-03-01 02:00:00
//
//	[context]
//	{...}
//
// It implements logging.Formatter. Empty fields are left out.
type Formatter struct {
	Title    string
	SiteName string
	Env      string
	Sandbox  string
	Hostname string
}

// Format implements logging.Formatter.
func (f Formatter) Format(rec logging.Record) string {
	var b strings.Builder

	if f.Title != "" {
		b.WriteString("<b>" + html.EscapeString(f.Title) + "</b>\n")
	}
	field := func(name, value string) {
		b.WriteString("<b>" + name + ":</b> " + html.EscapeString(value) + "\n")
	}
	field("Site name", f.SiteName)
	field("Message", rec.Message)
	field("Channel", rec.Channel)
	env := f.Env
	if env == "" {
		env = "production"
	}
	field("Environment", env)
	if f.Sandbox != "" {
		field("Sandbox", f.Sandbox)
	}
	if f.Hostname != "" {
		field("Server", f.Hostname)
	}
	field("Time", rec.Time.Format(logging.DateTimeFormat))

	if len(rec.Context) > 0 {
		data, err := json.MarshalIndent(rec.Context, "", "  ")
		if err == nil {
			b.WriteString("\n[context]\n")
			b.WriteString(html.EscapeString(string(data)))
		}
	}

	return b.String()
}
