package notifications

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/albapepper/breatheasy/internal/aqi"
	"github.com/albapepper/breatheasy/internal/subscription"
)

const brand = "Breathe Easy"

// Message is rendered content. Email sends HTML; SMS sends Text.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// Body returns the content sent on ch.
func (m Message) Body(ch Channel) string {
	if ch == ChannelEmail && m.HTML != "" {
		return m.HTML
	}
	return m.Text
}

// Template describes one renderable message for the admin listing.
type Template struct {
	Name        string    `json:"name"`
	Kind        Kind      `json:"kind"`
	Channels    []Channel `json:"channels"`
	Description string    `json:"description"`
}

// Templates lists the built-in templates.
func Templates() []Template {
	return []Template{
		{Name: "aqi_alert_email", Kind: KindAlert, Channels: []Channel{ChannelEmail},
			Description: "AQI above threshold, with pollutants and health guidance for the reading's category"},
		{Name: "aqi_alert_sms", Kind: KindAlert, Channels: []Channel{ChannelSMS},
			Description: "Single-segment AQI alert text"},
		{Name: "welcome", Kind: KindWelcome, Channels: []Channel{ChannelEmail},
			Description: "Sent once a subscription is verified"},
		{Name: "verification", Kind: KindVerification, Channels: []Channel{ChannelEmail},
			Description: "Email address confirmation link"},
		{Name: "broadcast", Kind: KindBroadcast, Channels: []Channel{ChannelEmail},
			Description: "Free-form announcement to a filtered audience"},
		{Name: "test", Kind: KindTest, Channels: []Channel{ChannelEmail, ChannelSMS},
			Description: "Transport check sent by an operator"},
	}
}

// --------------------------------------------------------------------------
// Alerts
// --------------------------------------------------------------------------

// AlertSubject is the email subject for an alert.
func AlertSubject(r aqi.Reading) string {
	return fmt.Sprintf("AQI Alert: %d - %s in %s", r.AQI, aqi.CategoryFor(r.AQI).Label, r.Location)
}

// AlertSMS renders the SMS alert text.
func AlertSMS(sub *subscription.Subscription, r aqi.Reading) Message {
	label := aqi.CategoryFor(r.AQI).Label
	return Message{
		Text: fmt.Sprintf("AQI ALERT: %d (%s) in %s. Exceeds your threshold of %d. "+
			"Stay indoors if sensitive to air pollution. - Breath Easy",
			r.AQI, label, r.Location, sub.Preferences.AQIThreshold),
	}
}

// AlertEmail renders the email alert. Guidance comes from the reading's
// category.
func AlertEmail(sub *subscription.Subscription, r aqi.Reading, baseURL string) Message {
	cat := aqi.CategoryFor(r.AQI)
	rec := aqi.HealthRecommendations(r.AQI)

	var b strings.Builder
	writeHead(&b, "AQI Alert")
	b.WriteString("<div class=\"header\">\n")
	b.WriteString("<h1>Air Quality Alert</h1>\n")
	b.WriteString(fmt.Sprintf("<p>%s</p>\n", esc(r.Location)))
	b.WriteString("</div>\n")

	b.WriteString(fmt.Sprintf("<div class=\"alert\" style=\"background:%s\">\n", esc(cat.Color)))
	b.WriteString(fmt.Sprintf("<div class=\"aqi\">%d</div>\n", r.AQI))
	b.WriteString(fmt.Sprintf("<div>%s</div>\n", esc(cat.Label)))
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"content\">\n")
	b.WriteString(fmt.Sprintf("<p>%s</p>\n", esc(cat.Description)))
	b.WriteString(fmt.Sprintf("<p>The current AQI exceeds your alert threshold of <strong>%d</strong>.</p>\n",
		sub.Preferences.AQIThreshold))

	if rows := pollutantRows(r.Pollutants); len(rows) > 0 {
		b.WriteString("<table class=\"pollutants\">\n")
		for _, row := range rows {
			b.WriteString(fmt.Sprintf("<tr><td>%s</td><td>%.1f µg/m³</td></tr>\n", row.name, row.value))
		}
		b.WriteString("</table>\n")
	}

	b.WriteString("<div class=\"advice\">\n")
	b.WriteString("<h3>Health advisory</h3>\n")
	b.WriteString(fmt.Sprintf("<p>%s</p>\n", esc(rec.General)))
	b.WriteString(fmt.Sprintf("<p><strong>Sensitive groups:</strong> %s</p>\n", esc(rec.Sensitive)))
	b.WriteString("<ul>\n")
	b.WriteString(fmt.Sprintf("<li>Outdoors: %s</li>\n", esc(rec.Activities.Outdoor)))
	b.WriteString(fmt.Sprintf("<li>Exercise: %s</li>\n", esc(rec.Activities.Exercise)))
	b.WriteString(fmt.Sprintf("<li>Windows: %s</li>\n", esc(rec.Activities.Windows)))
	b.WriteString("</ul>\n</div>\n")

	if !r.Timestamp.IsZero() {
		b.WriteString(fmt.Sprintf("<p class=\"muted\">Observed %s UTC via %s</p>\n",
			r.Timestamp.UTC().Format("Jan 2, 2006 at 3:04 PM"), esc(r.Source)))
	}
	b.WriteString("</div>\n")
	writeFooter(&b, unsubscribeURL(baseURL, sub))

	text := fmt.Sprintf("AQI ALERT - %s\n\nCurrent AQI: %d (%s)\n\nHealth advisory:\n%s\n\n%s\n\nYour alert threshold: %d\n\nUnsubscribe: %s\n",
		r.Location, r.AQI, cat.Label, rec.Sensitive, rec.General, sub.Preferences.AQIThreshold, unsubscribeURL(baseURL, sub))

	return Message{Subject: AlertSubject(r), HTML: b.String(), Text: text}
}

type pollutantRow struct {
	name  string
	value float64
}

func pollutantRows(p aqi.Pollutants) []pollutantRow {
	var rows []pollutantRow
	for _, r := range []pollutantRow{
		{"PM2.5", p.PM25}, {"PM10", p.PM10}, {"Ozone", p.O3},
		{"NO₂", p.NO2}, {"SO₂", p.SO2}, {"CO", p.CO},
	} {
		if r.value > 0 {
			rows = append(rows, r)
		}
	}
	return rows
}

// --------------------------------------------------------------------------
// Lifecycle messages
// --------------------------------------------------------------------------

// Welcome renders the post-verification welcome email.
func Welcome(sub *subscription.Subscription, baseURL string) Message {
	subject := fmt.Sprintf("Welcome to %s - AQI Alerts for %s", brand, sub.Location.Name)

	var b strings.Builder
	writeHead(&b, subject)
	b.WriteString("<div class=\"header\">\n<h1>Welcome to " + brand + "</h1>\n")
	b.WriteString("<p>Your AQI alert service is now active</p>\n</div>\n")
	b.WriteString("<div class=\"content\">\n")
	b.WriteString(fmt.Sprintf("<p>We will watch the air quality in <strong>%s</strong> for you.</p>\n", esc(sub.Location.Name)))
	b.WriteString("<ul>\n")
	b.WriteString(fmt.Sprintf("<li>Alert threshold: AQI %d (%s)</li>\n",
		sub.Preferences.AQIThreshold, esc(aqi.CategoryFor(sub.Preferences.AQIThreshold).Label)))
	b.WriteString(fmt.Sprintf("<li>Alert hours: %s to %s (%s)</li>\n",
		esc(sub.Preferences.NotificationTime.Start), esc(sub.Preferences.NotificationTime.End), esc(sub.Location.Timezone)))
	b.WriteString(fmt.Sprintf("<li>Channels: %s</li>\n", esc(channelList(sub.Preferences.Notifications))))
	b.WriteString("</ul>\n</div>\n")
	writeFooter(&b, unsubscribeURL(baseURL, sub))

	return Message{
		Subject: subject,
		HTML:    b.String(),
		Text:    fmt.Sprintf("Welcome to %s. Alerts for %s are active at threshold %d.", brand, sub.Location.Name, sub.Preferences.AQIThreshold),
	}
}

// Verification renders the confirmation email.
func Verification(sub *subscription.Subscription, baseURL string) Message {
	subject := "Verify your " + brand + " AQI Alert subscription"
	link := strings.TrimRight(baseURL, "/") + "/verify?token=" + url.QueryEscape(sub.VerificationToken)

	var b strings.Builder
	writeHead(&b, subject)
	b.WriteString("<div class=\"header\">\n<h1>Verify your email</h1>\n")
	b.WriteString("<p>One more step to activate your AQI alerts</p>\n</div>\n")
	b.WriteString("<div class=\"content\">\n")
	b.WriteString(fmt.Sprintf("<p>Thank you for subscribing to AQI alerts for <strong>%s</strong>.</p>\n", esc(sub.Location.Name)))
	b.WriteString(fmt.Sprintf("<p><a class=\"button\" href=\"%s\">Verify my email</a></p>\n", esc(link)))
	b.WriteString(fmt.Sprintf("<p class=\"muted\">Or paste this link into your browser: %s</p>\n", esc(link)))
	b.WriteString(fmt.Sprintf("<p>Once verified you will be alerted when the AQI reaches %d.</p>\n", sub.Preferences.AQIThreshold))
	b.WriteString("</div>\n")
	b.WriteString("<div class=\"footer\"><p>If you didn't request this subscription, you can ignore this email.</p></div>\n")
	b.WriteString("</body>\n</html>\n")

	return Message{Subject: subject, HTML: b.String(), Text: "Verify your subscription: " + link}
}

// Broadcast renders an operator announcement. The message is plain text and
// is escaped line by line.
func Broadcast(sub *subscription.Subscription, subject, message, baseURL string) Message {
	var b strings.Builder
	writeHead(&b, subject)
	b.WriteString(fmt.Sprintf("<div class=\"header\">\n<h1>%s</h1>\n</div>\n", esc(subject)))
	b.WriteString("<div class=\"content\">\n")
	for _, line := range strings.Split(message, "\n") {
		b.WriteString(fmt.Sprintf("<p>%s</p>\n", esc(line)))
	}
	b.WriteString("</div>\n")
	writeFooter(&b, unsubscribeURL(baseURL, sub))
	return Message{Subject: subject, HTML: b.String(), Text: message}
}

// Test renders the operator transport check.
func Test(ch Channel) Message {
	text := fmt.Sprintf("%s test message over %s. If you can read this, the transport works.", brand, ch)
	return Message{
		Subject: brand + " test notification",
		HTML:    "<p>" + esc(text) + "</p>",
		Text:    text,
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func writeHead(b *strings.Builder, title string) {
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString(fmt.Sprintf("<title>%s</title>\n", esc(title)))
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }\n")
	b.WriteString(".header { background: #2c7be5; color: #fff; padding: 24px; text-align: center; border-radius: 8px 8px 0 0; }\n")
	b.WriteString(".alert { color: #fff; padding: 20px; margin: 20px 0; border-radius: 8px; text-align: center; text-shadow: 0 1px 2px rgba(0,0,0,.4); }\n")
	b.WriteString(".aqi { font-size: 3em; font-weight: bold; }\n")
	b.WriteString(".content { background: #f9f9f9; padding: 24px; }\n")
	b.WriteString(".pollutants td { padding: 4px 12px 4px 0; }\n")
	b.WriteString(".advice { background: #e8f4f8; padding: 16px; border-left: 4px solid #17a2b8; margin: 16px 0; }\n")
	b.WriteString(".button { display: inline-block; background: #28a745; color: #fff; padding: 12px 24px; border-radius: 5px; text-decoration: none; }\n")
	b.WriteString(".muted, .footer { color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString(".footer { text-align: center; padding: 16px; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")
}

func writeFooter(b *strings.Builder, unsubscribe string) {
	b.WriteString("<div class=\"footer\">\n")
	b.WriteString("<p>" + brand + " - Air Quality Monitoring</p>\n")
	if unsubscribe != "" {
		b.WriteString(fmt.Sprintf("<p><a href=\"%s\">Unsubscribe from alerts</a></p>\n", esc(unsubscribe)))
	}
	b.WriteString("</div>\n</body>\n</html>\n")
}

func unsubscribeURL(baseURL string, sub *subscription.Subscription) string {
	if baseURL == "" || sub == nil {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/unsubscribe?id=" + url.QueryEscape(sub.ID.String())
}

func channelList(c subscription.Channels) string {
	var out []string
	if c.Email {
		out = append(out, "email")
	}
	if c.SMS {
		out = append(out, "SMS")
	}
	if c.Push {
		out = append(out, "push")
	}
	if len(out) == 0 {
		return "none"
	}
	return strings.Join(out, ", ")
}

func esc(s string) string {
	return html.EscapeString(s)
}
