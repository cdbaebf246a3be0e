package resend

import (
	"bytes"
	"context"
	"html/template"

	"github.com/brk3/habitd/internal/nudge"
	"github.com/resend/resend-go/v2"
)

const defaultFrom = "onboarding@resend.dev"

type ResendNotifier struct {
	ApiKey string
	Email  string
	From   string
}

var emailTemplate = template.Must(template.New("email").Parse(`
<p><strong>{{.Title}}</strong></p>
<p>{{.Body}}</p>
<p><small>Scheduled for {{.FireAt.Format "Mon 2 Jan 15:04"}}</small></p>
`))

func render(r nudge.Reminder) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *ResendNotifier) Notify(ctx context.Context, rem nudge.Reminder) error {
	html, err := render(rem)
	if err != nil {
		return err
	}

	from := r.From
	if from == "" {
		from = defaultFrom
	}
	client := resend.NewClient(r.ApiKey)
	params := &resend.SendEmailRequest{
		From:    from,
		To:      []string{r.Email},
		Subject: "Reminder: " + rem.Title,
		Html:    html,
	}

	_, err = client.Emails.SendWithContext(ctx, params)
	return err
}

var _ nudge.Notifier = (*ResendNotifier)(nil)
