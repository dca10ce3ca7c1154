package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

func TestTargetCompanies(t *testing.T) {
	docs := &fakeDocs{passages: map[string][]core.Passage{"Rivian": nil}}

	assert.Equal(t, []string{"Tesla", "Kia"}, TargetCompanies("Tesla vs Kia", nil))
	assert.Equal(t, []string{"Rivian"}, TargetCompanies("How is rivian positioned?", docs))
	assert.Equal(t, DefaultCompanies, TargetCompanies("EV companies", docs))
}

func TestCompanyAnalyzer_Execute(t *testing.T) {
	docs := &fakeDocs{passages: map[string][]core.Passage{
		"Tesla": {
			{Source: "tesla/10k.md", Text: "Tesla expands Gigafactory output. Margins narrow.", Score: 3},
			{Source: "tesla/10k.md", Text: "Second passage.", Score: 1},
		},
	}}
	a := NewCompanyAnalyzer(docs, nil, 1, nil)
	assert.True(t, a.Applicable(core.NewIntentSet(core.IntentCompany)))
	assert.False(t, a.Applicable(core.NewIntentSet(core.IntentMarket)))

	res, err := a.Execute(context.Background(), invocation("Tesla and BYD companies"))
	require.NoError(t, err)
	assert.Equal(t, "2 companies (1 with documents): Tesla, BYD", res.Summary)

	var report CompanyReport
	require.NoError(t, res.Decode(&report))
	require.Len(t, report.Companies, 2)

	tesla := report.Companies[0]
	assert.Equal(t, "TSLA", tesla.Ticker)
	assert.True(t, tesla.HasDocs)
	require.Len(t, tesla.Aspects, len(companyAspects))
	assert.Len(t, tesla.Aspects[0].Passages, 1)
	assert.Contains(t, tesla.Summary, "strategy: Tesla expands Gigafactory output.")

	byd := report.Companies[1]
	assert.False(t, byd.HasDocs)
	assert.Equal(t, "BYD: no local documents available.", byd.Summary)
}

func TestCompanyAnalyzer_SynthesisOnlyWithDocuments(t *testing.T) {
	docs := &fakeDocs{passages: map[string][]core.Passage{"Tesla": {{Text: "Tesla text."}}}}
	sum := &fakeSummarizer{text: "Tesla summary."}
	a := NewCompanyAnalyzer(docs, sum, 3, nil)

	res, err := a.Execute(context.Background(), invocation("Tesla and Kia companies"))
	require.NoError(t, err)
	var report CompanyReport
	require.NoError(t, res.Decode(&report))

	assert.Equal(t, 1, sum.calls)
	assert.True(t, report.Companies[0].Synthesized)
	assert.Equal(t, "Tesla summary.", report.Companies[0].Summary)
	assert.False(t, report.Companies[1].Synthesized)
}

func TestCompanyAnalyzer_NoDocuments(t *testing.T) {
	a := NewCompanyAnalyzer(nil, nil, 3, nil)
	res, err := a.Execute(context.Background(), invocation("EV companies"))
	require.NoError(t, err)
	var report CompanyReport
	require.NoError(t, res.Decode(&report))
	assert.Len(t, report.Companies, len(DefaultCompanies))
}
