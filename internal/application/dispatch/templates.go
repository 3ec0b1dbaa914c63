package dispatch

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/go-api-notify/internal/domain"
)

// Template is the content of one (type, role) pair. Title and Body are
// text/template sources rendered against the event data.
type Template struct {
	Title string
	Body  string
	Icon  string
	Sound string

	title *template.Template
	body  *template.Template
}

// Rendered is a template applied to event data.
type Rendered struct {
	Title string
	Body  string
	Icon  string
	Sound string
}

type templateKey struct {
	Type domain.NotificationType
	Role domain.Role
}

// Templates is an immutable (type, role) lookup table.
type Templates struct {
	byKey map[templateKey]*Template
}

// TemplateSet maps a type to its per-role content.
type TemplateSet map[domain.NotificationType]map[domain.Role]Template

// NewTemplates parses every entry of set. Missing data keys render as empty strings.
func NewTemplates(set TemplateSet) (*Templates, error) {
	t := &Templates{byKey: make(map[templateKey]*Template)}
	for typ, roles := range set {
		for role, tpl := range roles {
			tpl := tpl
			name := fmt.Sprintf("%s/%s", typ, role)
			var err error
			if tpl.title, err = template.New(name + "/title").Option("missingkey=zero").Parse(tpl.Title); err != nil {
				return nil, fmt.Errorf("parse %s title: %w", name, err)
			}
			if tpl.body, err = template.New(name + "/body").Option("missingkey=zero").Parse(tpl.Body); err != nil {
				return nil, fmt.Errorf("parse %s body: %w", name, err)
			}
			t.byKey[templateKey{Type: typ, Role: role}] = &tpl
		}
	}
	return t, nil
}

// MustTemplates is NewTemplates for the built-in table.
func MustTemplates(set TemplateSet) *Templates {
	t, err := NewTemplates(set)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the template for (typ, role). ok is false when the pair has
// no content, which callers treat as a suppression rather than an error.
func (t *Templates) Lookup(typ domain.NotificationType, role domain.Role) (*Template, bool) {
	tpl, ok := t.byKey[templateKey{Type: typ, Role: role}]
	return tpl, ok
}

func (tpl *Template) Render(data map[string]string) (Rendered, error) {
	if data == nil {
		data = map[string]string{}
	}
	var title, body bytes.Buffer
	if err := tpl.title.Execute(&title, data); err != nil {
		return Rendered{}, fmt.Errorf("render title: %w", err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return Rendered{}, fmt.Errorf("render body: %w", err)
	}
	return Rendered{Title: title.String(), Body: body.String(), Icon: tpl.Icon, Sound: tpl.Sound}, nil
}

// DefaultTemplates is the built-in content table.
var DefaultTemplates = TemplateSet{
	domain.TypeJobMatch: {
		domain.RoleEmployee: {
			Title: "A job that fits you",
			Body:  `{{.jobTitle}} at {{.company}} matches your skills`,
			Icon:  "job_icon", Sound: "job_match.wav",
		},
		domain.RoleCompany: {
			Title: "New matching candidate",
			Body:  `{{.candidateName}} applied for {{.jobTitle}}`,
			Icon:  "candidate_icon", Sound: "new_application.wav",
		},
	},
	domain.TypeCourseRecommendation: {
		domain.RoleEmployee: {
			Title: "Recommended course",
			Body:  `{{.courseTitle}} will build your skills in {{.field}}`,
			Icon:  "course_icon", Sound: "course_notification.wav",
		},
	},
	domain.TypeInterviewReminder: {
		domain.RoleEmployee: {
			Title: "Reminder: job interview",
			Body:  `Your interview with {{.company}} starts in {{.timeRemaining}}`,
			Icon:  "interview_icon", Sound: "urgent_reminder.wav",
		},
		domain.RoleCompany: {
			Title: "Reminder: candidate interview",
			Body:  `Interview with {{.candidateName}} starts in {{.timeRemaining}}`,
			Icon:  "interview_icon", Sound: "urgent_reminder.wav",
		},
	},
	domain.TypeApplicationStatus: {
		domain.RoleEmployee: {
			Title: `{{if eq .status "accepted"}}Your application was accepted!{{else}}Update on your application{{end}}`,
			Body:  `{{if eq .status "accepted"}}Congratulations! You were accepted for {{.jobTitle}}{{else}}Your application for {{.jobTitle}} is now {{.status}}{{end}}`,
			Icon:  "update_icon", Sound: "update.wav",
		},
	},
	domain.TypeNewApplication: {
		domain.RoleCompany: {
			Title: "New job application",
			Body:  `{{.applicantName}} applied for {{.jobTitle}}`,
			Icon:  "candidate_icon", Sound: "new_application.wav",
		},
	},
	domain.TypeCandidateMatch: {
		domain.RoleCompany: {
			Title: "Candidates match your posting",
			Body:  `{{.count}} new candidates match {{.jobTitle}}`,
			Icon:  "candidate_icon", Sound: "new_application.wav",
		},
	},
	domain.TypeRecommendationUpdate: {
		domain.RoleEmployee: {
			Title: "Your recommendations were updated",
			Body:  `We found new jobs and courses based on your profile`,
			Icon:  "update_icon", Sound: "update.wav",
		},
	},
	domain.TypeNewMessage: {
		domain.RoleEmployee: {
			Title: `New message from {{.senderName}}`,
			Body:  `{{.preview}}`,
			Icon:  "message_icon", Sound: "message.wav",
		},
		domain.RoleCompany: {
			Title: `New message from {{.senderName}}`,
			Body:  `{{.preview}}`,
			Icon:  "message_icon", Sound: "message.wav",
		},
	},
	domain.TypeNewDeviceLogin: {
		domain.RoleEmployee: deviceLoginTemplate,
		domain.RoleCompany:  deviceLoginTemplate,
		domain.RoleAdmin:    deviceLoginTemplate,
	},
	domain.TypeSystem: {
		domain.RoleEmployee: systemTemplate,
		domain.RoleCompany:  systemTemplate,
		domain.RoleAdmin:    systemTemplate,
	},
}

var deviceLoginTemplate = Template{
	Title: "New device sign-in",
	Body:  `Your account was accessed from {{.device}} at {{.time}}. If this was not you, change your password now.`,
	Icon:  "security_icon", Sound: "urgent_reminder.wav",
}

var systemTemplate = Template{
	Title: `{{.title}}`,
	Body:  `{{.message}}`,
	Icon:  "system_icon", Sound: "default.wav",
}
