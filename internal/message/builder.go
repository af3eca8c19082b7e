package message

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/language"

	"qgnotify/internal/domain"
)

// ErrMissingArgument marks a Build call without a required input.
var ErrMissingArgument = errors.New("required argument is missing")

// BuildParams carries every input of one message build.
// Params: rule, project identity, sender identity, optional gate and branch, and naming options.
// Returns: immutable build request.
type BuildParams struct {
	Rule          *domain.ProjectRule
	Gate          *domain.QualityGate
	ProjectName   string
	ProjectURL    string
	Username      string
	IconURL       string
	Branch        *domain.Branch
	IncludeBranch bool
	Names         MetricNamer
	Locale        language.Tag
	Logger        *slog.Logger
}

// Build assembles the outbound chat message for one analysis.
// Params: fully specified build request.
// Returns: payload, or error wrapping ErrMissingArgument naming the missing input.
func Build(p BuildParams) (domain.Payload, error) {
	switch {
	case p.Rule == nil:
		return domain.Payload{}, fmt.Errorf("%w: rule", ErrMissingArgument)
	case p.ProjectURL == "":
		return domain.Payload{}, fmt.Errorf("%w: projectUrl", ErrMissingArgument)
	case p.Username == "":
		return domain.Payload{}, fmt.Errorf("%w: username", ErrMissingArgument)
	case p.Names == nil:
		return domain.Payload{}, fmt.Errorf("%w: names", ErrMissingArgument)
	}

	payload := domain.Payload{
		Channel:  p.Rule.Destination,
		Username: p.Username,
		IconURL:  p.IconURL,
		Text:     summary(p),
	}
	if p.Gate != nil {
		payload.Attachments = []domain.Attachment{conditionsAttachment(p)}
	}
	return payload, nil
}

// summary renders the one-line analysis summary.
func summary(p BuildParams) string {
	var sb strings.Builder
	if mention := strings.TrimSpace(p.Rule.MentionTarget); mention != "" {
		sb.WriteString("<!")
		sb.WriteString(mention)
		sb.WriteString("> ")
	}
	sb.WriteString("Project [")
	sb.WriteString(p.ProjectName)
	sb.WriteString("] analyzed")
	if p.IncludeBranch && p.Branch != nil && !p.Branch.IsMain {
		sb.WriteString(" for branch [")
		sb.WriteString(p.Branch.Name)
		sb.WriteString("]")
	}
	sb.WriteString(". See ")
	sb.WriteString(p.ProjectURL)
	if p.Gate != nil {
		sb.WriteString(". Quality gate status: ")
		sb.WriteString(string(p.Gate.Status))
	} else {
		sb.WriteString(".")
	}
	return sb.String()
}

// conditionsAttachment renders gate conditions, dropping passing ones for fail-only rules.
func conditionsAttachment(p BuildParams) domain.Attachment {
	fields := make([]domain.Field, 0, len(p.Gate.Conditions))
	for _, cond := range p.Gate.Conditions {
		if p.Rule.FailOnlyOnError && !isFailing(cond.Status) {
			continue
		}
		fields = append(fields, FormatCondition(cond, p.Names, p.Locale, p.Logger))
	}
	return domain.Attachment{
		Color:  domain.StatusColor(p.Gate.Status),
		Fields: fields,
	}
}

func isFailing(status domain.EvaluationStatus) bool {
	return status != domain.EvaluationOK && status != domain.EvaluationNoValue
}

// DashboardURL builds the project dashboard link on the configured server.
// Params: server base URL (trailing slash added when missing) and project key.
// Returns: dashboard URL.
func DashboardURL(baseURL, projectKey string) string {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL + "dashboard?id=" + projectKey
}
