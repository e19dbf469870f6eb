package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/schema"
)

func TestNameMapper_ResolveIsCaseAndWhitespaceInsensitive(t *testing.T) {
	m := schema.NewNameMapper("")

	a := m.Resolve("NHWA_Comment of X")
	b := m.Resolve(" nhwa_comment   of x ")
	assert.Equal(t, a, b)
	assert.Equal(t, "nhwa_comment of x_apvd", a)
	assert.Equal(t, a, m.Resolve("NHWA_Comment of X"), "deterministic")

	assert.Equal(t, m.Key("NHWA_Comment of X_APVD"), a)
}

func TestNameMapper_CustomSuffix(t *testing.T) {
	m := schema.NewNameMapper("-Approved")
	assert.Equal(t, "-Approved", m.Suffix())
	assert.Equal(t, "de1-approved", m.Resolve("DE1"))
	assert.Equal(t, "de1", m.BasicName("DE1-APPROVED"))
}

func TestNameMapper_BasicName(t *testing.T) {
	m := schema.NewNameMapper(schema.DefaultSuffix)

	cases := map[string]string{
		"NHWA_Comment of Nurses_APVD": "nhwa_nurses",
		"Comment of Doctors":          "doctors",
		"AMR Isolates_APVD":           "amr isolates",
		"Plain":                       "plain",
	}
	for in, want := range cases {
		assert.Equal(t, want, m.BasicName(in), in)
	}
}

func TestIndex_Match(t *testing.T) {
	m := schema.NewNameMapper(schema.DefaultSuffix)
	ix := schema.NewIndex(m, []schema.NamedElement{
		{ID: "a1", Name: "DE1_APVD"},
		{ID: "a2", Name: "de2_apvd"},
		{ID: "a3", Name: "DE2_APVD "},
	})

	got := ix.Match([]schema.NamedElement{
		{ID: "d1", Name: "DE1"},
		{ID: "d2", Name: "DE2"},
		{ID: "d3", Name: "Draft only"},
	})

	require.Len(t, got.Correspondences, 2)
	assert.Equal(t, schema.ElementCorrespondence{OriginID: "d1", DestinationID: "a1", BasicName: "de1"}, got.Correspondences[0])
	assert.Equal(t, "a2", got.Correspondences[1].DestinationID, "first candidate wins")
	assert.Equal(t, []schema.NamedElement{{ID: "d2", Name: "DE2"}}, got.Ambiguous)
	assert.Equal(t, []schema.NamedElement{{ID: "d3", Name: "Draft only"}}, got.Misses)

	table := schema.NewElementTable(got.Correspondences)
	assert.Equal(t, "a1", table["d1"])

	stages := schema.NewStageTable(schema.Stages(got))
	dest, ok := stages.Destination("d2")
	require.True(t, ok)
	assert.Equal(t, "a2", dest)
	_, ok = stages.Destination("d3")
	assert.False(t, ok)
}
