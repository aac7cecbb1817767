package slug

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain name", "Saint Nicholas", "saint-nicholas"},
		{"punctuation dropped", "St. Mary's Orthodox Church!", "st-marys-orthodox-church"},
		{"whitespace runs collapse", "  Holy   Trinity \t Cathedral ", "holy-trinity-cathedral"},
		{"accents folded", "Sfântul Ioan Botezătorul", "sfantul-ioan-botezatorul"},
		{"existing hyphens kept", "Saints Peter-Paul", "saints-peter-paul"},
		{"cyrillic transliterated", "Святой Николай", "svyatoi-nikolai"},
		{"cyrillic digraphs", "Храм Всех Святых", "khram-vsekh-svyatykh"},
		{"greek transliterated", "Άγιος Νικόλαος", "agios-nikolaos"},
		{"greek digraphs", "Ιερός Ναός Ευαγγελιστρίας", "ieros-naos-evaggelistrias"},
		{"unknown script falls back", "聖尼古拉", Fallback},
		{"empty falls back", "", Fallback},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeTruncatesAndTrimsHyphens(t *testing.T) {
	long := strings.Repeat("a", 49) + " bcd"
	got := Normalize(long)
	require.LessOrEqual(t, len(got), MaxLength)
	require.Equal(t, strings.Repeat("a", 49), got)
}

func TestSequenceSkipsTakenSlugs(t *testing.T) {
	seq := NewSequence("saint-nicholas", []string{"saint-nicholas", "saint-nicholas-1", "saint-nicholas-3"})

	first, ok := seq.Next()
	require.True(t, ok)
	require.Equal(t, "saint-nicholas-2", first)

	second, ok := seq.Next()
	require.True(t, ok)
	require.Equal(t, "saint-nicholas-4", second)
}

func TestSequenceStartsWithBase(t *testing.T) {
	seq := NewSequence("saint-nicholas", nil)
	first, ok := seq.Next()
	require.True(t, ok)
	require.Equal(t, "saint-nicholas", first)
}

func TestSequenceIsBounded(t *testing.T) {
	seq := NewSequence("x", nil)
	for i := 0; i < MaxAttempts; i++ {
		_, ok := seq.Next()
		require.True(t, ok)
	}
	_, ok := seq.Next()
	require.False(t, ok)
}

func TestLikePatternEscapesWildcards(t *testing.T) {
	require.Equal(t, `st\_john-%`, LikePattern("st_john"))
	require.Equal(t, "saint-nicholas-%", LikePattern("saint-nicholas"))
}
