package message

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"qgnotify/internal/domain"
)

func TestBuildFailOnlyFiltersPassingConditions(t *testing.T) {
	t.Parallel()

	params := baseParams(&domain.ProjectRule{Destination: "#team", FailOnlyOnError: true})
	params.Gate = &domain.QualityGate{
		Status: domain.GateStatusError,
		Conditions: []domain.Condition{
			{MetricKey: "new_vulnerabilities", Operator: domain.OperatorGreaterThan, Status: domain.EvaluationOK, Value: "0", ErrorThreshold: strPtr("0")},
			{MetricKey: "new_bugs", Operator: domain.OperatorGreaterThan, Status: domain.EvaluationWarn, Value: "1", WarningThreshold: strPtr("0")},
			{MetricKey: "new_coverage", Operator: domain.OperatorLessThan, Status: domain.EvaluationNoValue},
			{MetricKey: "new_coverage", Operator: domain.OperatorLessThan, Status: domain.EvaluationError, Value: "75.5", ErrorThreshold: strPtr("80.0")},
		},
	}

	payload, err := Build(params)
	require.NoError(t, err)

	require.Len(t, payload.Attachments, 1)
	fields := payload.Attachments[0].Fields
	require.Len(t, fields, 2)
	require.Equal(t, "New Bugs: WARN", fields[0].Title)
	require.Equal(t, "Coverage on New Code: ERROR", fields[1].Title)
	require.Equal(t, domain.ColorDanger, payload.Attachments[0].Color)
}

func TestBuildKeepsAllConditionsWithoutFailOnly(t *testing.T) {
	t.Parallel()

	params := baseParams(&domain.ProjectRule{Destination: "#team"})
	params.Gate = &domain.QualityGate{
		Status: domain.GateStatusWarn,
		Conditions: []domain.Condition{
			{MetricKey: "new_bugs", Operator: domain.OperatorGreaterThan, Status: domain.EvaluationOK, Value: "0", ErrorThreshold: strPtr("0")},
			{MetricKey: "new_coverage", Operator: domain.OperatorLessThan, Status: domain.EvaluationNoValue},
			{MetricKey: "new_bugs", Operator: domain.OperatorGreaterThan, Status: domain.EvaluationWarn, Value: "2", WarningThreshold: strPtr("1")},
		},
	}

	payload, err := Build(params)
	require.NoError(t, err)

	require.Len(t, payload.Attachments[0].Fields, 3)
	require.Equal(t, domain.ColorWarning, payload.Attachments[0].Color)
}

func TestBuildBranchInclusion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		branch        *domain.Branch
		includeBranch bool
		wantSuffix    bool
	}{
		{name: "feature branch included", branch: &domain.Branch{Name: "feature-x"}, includeBranch: true, wantSuffix: true},
		{name: "main branch never included", branch: &domain.Branch{Name: "feature-x", IsMain: true}, includeBranch: true},
		{name: "flag off", branch: &domain.Branch{Name: "feature-x"}},
		{name: "no branch", includeBranch: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			params := baseParams(&domain.ProjectRule{Destination: "#team"})
			params.Branch = tt.branch
			params.IncludeBranch = tt.includeBranch

			payload, err := Build(params)
			require.NoError(t, err)
			if tt.wantSuffix {
				require.Contains(t, payload.Text, "for branch [feature-x]")
				require.Equal(t, "Project [Project A] analyzed for branch [feature-x]. See https://sonar.example/dashboard?id=proj:A.", payload.Text)
			} else {
				require.NotContains(t, payload.Text, "for branch")
			}
		})
	}
}

func TestBuildWithoutGateHasNoAttachments(t *testing.T) {
	t.Parallel()

	payload, err := Build(baseParams(&domain.ProjectRule{Destination: "#team"}))
	require.NoError(t, err)

	require.Nil(t, payload.Attachments)
	require.Equal(t, "Project [Project A] analyzed. See https://sonar.example/dashboard?id=proj:A.", payload.Text)
	require.NotContains(t, payload.Text, "Quality gate status")

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NotContains(t, string(body), "attachments")
	require.NotContains(t, string(body), "icon_url")
}

func TestBuildMentionAndIcon(t *testing.T) {
	t.Parallel()

	params := baseParams(&domain.ProjectRule{Destination: "#team", MentionTarget: " here "})
	params.IconURL = "https://cdn.example/icon.png"
	params.Gate = &domain.QualityGate{Status: domain.GateStatusOK}

	payload, err := Build(params)
	require.NoError(t, err)

	require.Equal(t, "<!here> Project [Project A] analyzed. See https://sonar.example/dashboard?id=proj:A. Quality gate status: OK", payload.Text)
	require.Equal(t, "https://cdn.example/icon.png", payload.IconURL)
	require.Equal(t, "#team", payload.Channel)
	require.Equal(t, "QG Bot", payload.Username)
	require.Len(t, payload.Attachments, 1)
	require.Equal(t, domain.ColorGood, payload.Attachments[0].Color)
	require.NotNil(t, payload.Attachments[0].Fields)
	require.Empty(t, payload.Attachments[0].Fields)
}

func TestBuildEndToEndCoverageCondition(t *testing.T) {
	t.Parallel()

	catalog, err := LoadCatalog("")
	require.NoError(t, err)

	params := baseParams(&domain.ProjectRule{KeyPattern: "proj:A", Destination: "#team"})
	params.Names = catalog
	params.Gate = &domain.QualityGate{
		Status: domain.GateStatusOK,
		Conditions: []domain.Condition{
			{MetricKey: "new_coverage", Operator: domain.OperatorLessThan, Status: domain.EvaluationError, Value: "75.51", ErrorThreshold: strPtr("80.0")},
		},
	}

	payload, err := Build(params)
	require.NoError(t, err)

	require.Contains(t, payload.Text, "Quality gate status: OK")
	require.Len(t, payload.Attachments, 1)
	require.Equal(t, []domain.Field{{Title: "Coverage on New Code: ERROR", Value: "75.51%, error if <80.0%"}}, payload.Attachments[0].Fields)
}

func TestBuildMissingArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*BuildParams)
		wantArg string
	}{
		{name: "rule", mutate: func(p *BuildParams) { p.Rule = nil }, wantArg: "rule"},
		{name: "project url", mutate: func(p *BuildParams) { p.ProjectURL = "" }, wantArg: "projectUrl"},
		{name: "username", mutate: func(p *BuildParams) { p.Username = "" }, wantArg: "username"},
		{name: "names", mutate: func(p *BuildParams) { p.Names = nil }, wantArg: "names"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			params := baseParams(&domain.ProjectRule{Destination: "#team"})
			tt.mutate(&params)

			_, err := Build(params)
			require.True(t, errors.Is(err, ErrMissingArgument))
			require.ErrorContains(t, err, tt.wantArg)
		})
	}
}

func TestDashboardURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://sonar.example/dashboard?id=proj:A", DashboardURL("https://sonar.example", "proj:A"))
	require.Equal(t, "https://sonar.example/dashboard?id=proj:A", DashboardURL("https://sonar.example/", "proj:A"))
}

func baseParams(rule *domain.ProjectRule) BuildParams {
	return BuildParams{
		Rule:        rule,
		ProjectName: "Project A",
		ProjectURL:  "https://sonar.example/dashboard?id=proj:A",
		Username:    "QG Bot",
		Names:       testNames,
		Locale:      language.English,
		Logger:      discardLogger(),
	}
}
