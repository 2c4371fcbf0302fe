package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Message is a rendered notification ready for a transport.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

const dateLayout = "2006-01-02 15:04 MST"

var funcs = template.FuncMap{
	"date": func(t time.Time) string { return t.Format(dateLayout) },
	"join": func(names []string) string { return strings.Join(names, ", ") },
	"orNotSet": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "not set"
		}
		return s
	},
}

type templatePair struct {
	subject *template.Template
	body    *template.Template
}

type templateKey struct {
	kind Kind
	role RecipientRole
}

const footer = `{{if .Notes}}
Notes: {{.Notes}}
{{end}}
--
Coaching appointments
`

var sources = map[templateKey][2]string{
	{KindApproved, RecipientClient}: {
		`Your appointment on {{date .ScheduledAt}} has been approved`,
		`Hello {{.RecipientName}},

Your appointment request for {{date .ScheduledAt}} has been approved.

Coaches: {{join .CoachNames}}
Date: {{date .ScheduledAt}} ({{.DurationMinutes}} min)
Meeting URL: {{orNotSet .MeetingURL}}
` + footer,
	},
	{KindApproved, RecipientCoach}: {
		`Appointment with {{.ClientName}} is confirmed`,
		`Hello {{.RecipientName}},

The appointment request from {{.ClientName}} has been approved.

Client: {{.ClientName}}
Coaches: {{join .CoachNames}}
Date: {{date .ScheduledAt}} ({{.DurationMinutes}} min)
Meeting URL: {{orNotSet .MeetingURL}}
` + footer,
	},
	{KindUpdated, RecipientClient}: {
		`Your appointment on {{date .PreviousScheduledAt}} has been rescheduled`,
		`Hello {{.RecipientName}},

Your appointment on {{date .PreviousScheduledAt}} has been moved.

Before: {{date .PreviousScheduledAt}}
After: {{date .ScheduledAt}} ({{.DurationMinutes}} min)
Coaches: {{join .CoachNames}}
Meeting URL: {{orNotSet .MeetingURL}}
` + footer,
	},
	{KindUpdated, RecipientCoach}: {
		`Appointment with {{.ClientName}} has been rescheduled`,
		`Hello {{.RecipientName}},

The appointment with {{.ClientName}} has been moved.

Before: {{date .PreviousScheduledAt}}
After: {{date .ScheduledAt}} ({{.DurationMinutes}} min)
Client: {{.ClientName}}
Coaches: {{join .CoachNames}}
Meeting URL: {{orNotSet .MeetingURL}}
` + footer,
	},
	{KindCancelled, RecipientClient}: {
		`Your appointment on {{date .ScheduledAt}} has been cancelled`,
		`Hello {{.RecipientName}},

Your appointment on {{date .ScheduledAt}} has been cancelled.

Coaches: {{join .CoachNames}}
Date: {{date .ScheduledAt}}

To meet again, please book a new appointment.
` + footer,
	},
	{KindCancelled, RecipientCoach}: {
		`Appointment with {{.ClientName}} has been cancelled`,
		`Hello {{.RecipientName}},

The appointment with {{.ClientName}} has been cancelled.

Client: {{.ClientName}}
Coaches: {{join .CoachNames}}
Date: {{date .ScheduledAt}}
` + footer,
	},
}

// Renderer turns events into messages. It is safe for concurrent use.
type Renderer struct {
	templates map[templateKey]templatePair
}

func NewRenderer() *Renderer {
	r := &Renderer{templates: make(map[templateKey]templatePair, len(sources))}
	for key, src := range sources {
		name := string(key.kind) + "." + string(key.role)
		r.templates[key] = templatePair{
			subject: template.Must(template.New(name + ".subject").Funcs(funcs).Parse(src[0])),
			body:    template.Must(template.New(name + ".body").Funcs(funcs).Parse(src[1])),
		}
	}
	return r
}

func (r *Renderer) Render(ev Event) (Message, error) {
	tpl, ok := r.templates[templateKey{ev.Kind, ev.RecipientRole}]
	if !ok {
		return Message{}, fmt.Errorf("no template for %s/%s", ev.Kind, ev.RecipientRole)
	}
	if ev.Kind == KindUpdated && ev.Payload.PreviousScheduledAt == nil {
		return Message{}, fmt.Errorf("updated event %s has no previous datetime", ev.ID)
	}

	data := templateData{Payload: ev.Payload}
	if ev.Payload.PreviousScheduledAt != nil {
		data.PreviousScheduledAt = *ev.Payload.PreviousScheduledAt
	}

	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}

	return Message{
		To:      ev.RecipientEmail,
		Subject: strings.TrimSpace(subject.String()),
		Body:    body.String(),
	}, nil
}

// templateData shadows the pointer field so templates can format it directly.
type templateData struct {
	Payload
	PreviousScheduledAt time.Time
}
