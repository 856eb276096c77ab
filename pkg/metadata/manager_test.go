package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barekit/ragchat/pkg/errdefs"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager() *Manager {
	return NewManager(WithClock(func() time.Time { return fixedNow }))
}

func TestExtract_GermanVehicleText(t *testing.T) {
	m := newTestManager()
	content := "Die Prüfung der Bremsanlage ist Pflicht. Das Fahrzeug und der Motor werden geprüft. Der Airbag wird getestet."

	e := m.Extract(content)

	assert.Equal(t, "de", e.Language)
	assert.Equal(t, []string{"sicherheit", "technik", "wartung", "recht"}, e.Topics)
	assert.Equal(t, len([]rune(content)), e.ContentLength)
	assert.Equal(t, fixedNow, e.ExtractedAt)
	assert.GreaterOrEqual(t, e.ComplexityScore, 0.0)
	assert.LessOrEqual(t, e.ComplexityScore, 1.0)
	assert.NotContains(t, e.Keywords, "der")
	assert.NotContains(t, e.Keywords, "die")
}

func TestExtract_EnglishFallback(t *testing.T) {
	e := newTestManager().Extract("A short english sentence about cars.")
	assert.Equal(t, "en", e.Language)
	assert.Empty(t, e.Topics)
}

func TestExtract_KeywordsByFrequency(t *testing.T) {
	e := newTestManager().Extract("bremse bremse bremse reifen reifen licht")
	assert.Equal(t, []string{"bremse", "reifen", "licht"}, e.Keywords)
}

func TestExtract_KeywordsCappedAtTen(t *testing.T) {
	e := newTestManager().Extract("a1 a2 a3 a4 a5 a6 a7 a8 a9 a10 a11 a12")
	assert.Len(t, e.Keywords, 10)
	assert.Equal(t, "a1", e.Keywords[0])
}

func TestExtract_EmptyContentFallsBack(t *testing.T) {
	e := newTestManager().Extract("   ")
	assert.Equal(t, 0.5, e.ComplexityScore)
}

func TestExtractedMap(t *testing.T) {
	md := newTestManager().Extract("Das Fahrzeug ist sicher und die Prüfung ist bestanden.").Map()
	for _, key := range []string{KeyLanguage, KeyTopics, KeyKeywords, KeyComplexityScore, KeyContentLength, KeyExtractedAt} {
		assert.Contains(t, md, key)
	}
}

func TestMerge(t *testing.T) {
	m := newTestManager()
	base := map[string]any{
		"topics":           []string{"recht", "technik"},
		"keywords":         "motor, bremse",
		"complexity_score": 0.2,
		"source":           "upload",
	}
	next := map[string]any{
		"topics":           []string{"technik", "umwelt"},
		"keywords":         []string{"bremse", "abgas"},
		"complexity_score": 0.7,
		"importance_score": 0.9,
	}

	merged := m.Merge(base, next)

	assert.Equal(t, []string{"recht", "technik", "umwelt"}, merged["topics"])
	assert.Equal(t, []string{"motor", "bremse", "abgas"}, merged["keywords"])
	assert.Equal(t, 0.7, merged["complexity_score"])
	assert.Equal(t, 0.9, merged["importance_score"])
	assert.Equal(t, "upload", merged["source"])
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), merged["updated_at"])
	assert.Equal(t, []string{"recht", "technik"}, base["topics"], "base must not be modified")
}

func TestValidate(t *testing.T) {
	valid := func() map[string]any {
		return map[string]any{
			"created_at":     "2024-03-01T12:00:00Z",
			"content_length": 120,
			"language":       "de",
		}
	}

	tests := []struct {
		name   string
		mutate func(map[string]any)
		ok     bool
	}{
		{name: "valid", mutate: func(map[string]any) {}, ok: true},
		{name: "time value", mutate: func(md map[string]any) { md["created_at"] = fixedNow }, ok: true},
		{name: "missing created_at", mutate: func(md map[string]any) { delete(md, "created_at") }},
		{name: "bad timestamp", mutate: func(md map[string]any) { md["created_at"] = "yesterday" }},
		{name: "negative length", mutate: func(md map[string]any) { md["content_length"] = -1 }},
		{name: "string length", mutate: func(md map[string]any) { md["content_length"] = "12" }},
		{name: "long language", mutate: func(md map[string]any) { md["language"] = "deu" }},
		{name: "topics list", mutate: func(md map[string]any) { md["topics"] = []string{"recht"} }, ok: true},
		{name: "topics not list", mutate: func(md map[string]any) { md["topics"] = "recht" }},
		{name: "mixed keywords", mutate: func(md map[string]any) { md["keywords"] = []any{"a", 1} }},
		{name: "score in range", mutate: func(md map[string]any) { md["importance_score"] = 1.0 }, ok: true},
		{name: "score out of range", mutate: func(md map[string]any) { md["validation_score"] = 1.5 }},
	}

	m := newTestManager()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			md := valid()
			tc.mutate(md)
			err := m.Validate(md)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, errdefs.ErrValidation)
		})
	}
}

func TestFlatten(t *testing.T) {
	flat := Flatten(map[string]any{
		"topics":  []string{"recht", "technik"},
		"ids":     []any{"a", 2},
		"count":   3,
		"when":    fixedNow,
		"nothing": nil,
	})

	assert.Equal(t, "recht, technik", flat["topics"])
	assert.Equal(t, "a, 2", flat["ids"])
	assert.Equal(t, 3, flat["count"])
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), flat["when"])
	assert.NotContains(t, flat, "nothing")
}

func TestConversions(t *testing.T) {
	n, ok := Int(float64(4))
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	_, ok = Int(4.5)
	assert.False(t, ok)

	n, ok = Int("7")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	f, ok := Float("0.25")
	assert.True(t, ok)
	assert.Equal(t, 0.25, f)

	list, ok := StringList("recht, technik")
	assert.True(t, ok)
	assert.Equal(t, []string{"recht", "technik"}, list)
}
