package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"courtside/internal/models"
)

var reminderHTML = template.Must(template.New("reminder").Parse(`<html><body>
<p>Hello {{.Name}},</p>
<p>This is a reminder of your booking at <b>{{.Booking.ListingName}}</b> ({{.Booking.Location}})
on {{.Booking.Date}} from {{.Booking.StartTime}} to {{.Booking.EndTime}}.</p>
<p>Booking reference: {{.Booking.ID}}<br>Total: {{printf "%.2f" .Booking.Price}}</p>
</body></html>
`))

// Reminder is the rendered content of one booking reminder.
type Reminder struct {
	Title string
	Text  string
	HTML  string
}

// RenderReminder builds the in-app, chat and mail forms of a reminder.
func RenderReminder(u *models.User, b *models.Booking) (Reminder, error) {
	name := u.Name
	if name == "" {
		name = u.Email
	}

	var html bytes.Buffer
	if err := reminderHTML.Execute(&html, struct {
		Name    string
		Booking *models.Booking
	}{name, b}); err != nil {
		return Reminder{}, fmt.Errorf("render reminder: %w", err)
	}

	return Reminder{
		Title: "Upcoming booking: " + b.ListingName,
		Text: fmt.Sprintf("Reminder: %s, %s on %s %s-%s.",
			b.ListingName, b.Location, b.Date, b.StartTime, b.EndTime),
		HTML: html.String(),
	}, nil
}
