package moderation

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewFilter_NormalizesTerms(t *testing.T) {
	f := NewFilter(Config{Blocklist: []string{"  Hate ", "", "hate", "IDIOT", "   "}})
	assert.Equal(t, []string{"hate", "idiot"}, f.Terms())
}

func TestNewFilter_CopiesConfig(t *testing.T) {
	cfg := Config{
		Blocklist: []string{"hate"},
		Leet:      map[rune]rune{'4': 'a'},
	}
	f := NewFilter(cfg)

	cfg.Blocklist[0] = "love"
	cfg.Leet['4'] = 'x'
	delete(cfg.Leet, '4')

	assert.True(t, f.IsInappropriate("h4te"))
	assert.False(t, f.IsInappropriate("love"))
}

func TestCheck_Scenarios(t *testing.T) {
	f := NewDefaultFilter()

	tests := []struct {
		name    string
		input   string
		blocked bool
		stage   Stage
		term    string
	}{
		{"direct", "You are so stupid", true, StageDirect, "stupid"},
		{"leet", "h4t3 speech", true, StageDeleeted, "hate"},
		{"separators", "I d.u.m.b.ly missed this", true, StageCompacted, "dumb"},
		{"clean", "This is a great idea", false, StageNone, ""},
		{"study chat", "Let's review chapter 5 together", false, StageNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := f.Check(tt.input)
			assert.Equal(t, tt.blocked, v.Blocked)
			assert.Equal(t, tt.stage, v.Stage)
			assert.Equal(t, tt.term, v.Term)
			assert.Equal(t, tt.blocked, f.IsInappropriate(tt.input))
		})
	}
}

func TestCheck_SpacedPhraseDoesNotMatchCompacted(t *testing.T) {
	// Compaction removes the space inside multi-word terms too, so a phrase
	// term only matches through the direct pass.
	f := NewFilter(Config{Blocklist: []string{"shut up"}})
	assert.True(t, f.IsInappropriate("just SHUT UP already"))
	assert.False(t, f.IsInappropriate("shut.up"))
}

func TestCheck_CaseInsensitive(t *testing.T) {
	f := NewDefaultFilter()
	for _, term := range f.Terms() {
		variants := []string{strings.ToUpper(term), strings.ToLower(term), mixedCase(term)}
		for _, v := range variants {
			assert.True(t, f.IsInappropriate(v), "variant %q of %q", v, term)
		}
	}
}

func TestCheck_SeparatorResistance(t *testing.T) {
	f := NewDefaultFilter()
	separators := []string{".", " ", "-", "_", " * ", "!?", "·"}

	for _, term := range f.Terms() {
		letters := strings.ReplaceAll(term, " ", "")
		if len(letters) < 2 {
			continue
		}
		for _, sep := range separators {
			input := strings.Join(strings.Split(letters, ""), sep)
			assert.True(t, f.IsInappropriate(input), "input %q", input)
		}
	}
}

func TestCheck_LeetResistance(t *testing.T) {
	f := NewFilter(Config{Blocklist: []string{"idiot", "hate", "stupid", "loser"}, Leet: DefaultLeet})

	tests := []string{
		"1d10t",
		"you 1d10t",
		"h4t3",
		"57up1d",
		"l053r",
		"L 0 5 3 R",
		"H4T3",
	}
	for _, input := range tests {
		assert.True(t, f.IsInappropriate(input), "input %q", input)
	}
}

func TestCheck_LeetAppliesAfterCompaction(t *testing.T) {
	// '@' and '$' are stripped by compaction before the leet table is
	// consulted, so they never reach the de-leet pass.
	f := NewFilter(Config{Blocklist: []string{"hate"}, Leet: DefaultLeet})
	assert.False(t, f.IsInappropriate("h@te"))
	assert.True(t, f.IsInappropriate("h4te"))
}

func TestCheck_EmptyAndAbsent(t *testing.T) {
	f := NewDefaultFilter()

	assert.False(t, f.IsInappropriate(""))
	assert.False(t, f.IsInappropriateText(nil))

	empty := ""
	assert.False(t, f.IsInappropriateText(&empty))

	bad := "stupid"
	assert.True(t, f.IsInappropriateText(&bad))
}

func TestCheck_NoLettersOrUnicode(t *testing.T) {
	f := NewDefaultFilter()

	for _, input := range []string{"   ", "!!!???", "12345", "日本語のテキスト", "😀😀😀", "\x00\xff"} {
		assert.False(t, f.IsInappropriate(input), "input %q", input)
	}
	assert.True(t, f.IsInappropriate("日本 stupid 語"))
	assert.True(t, f.IsInappropriate("h😀a😀t😀e"))
}

func TestCheck_SubstringFalsePositive(t *testing.T) {
	f := NewFilter(Config{Blocklist: []string{"ass"}})

	assert.True(t, f.IsInappropriate("what class are you in?"))
	assert.True(t, f.IsInappropriate("assignment due friday"))
	assert.False(t, f.IsInappropriate("see you in lab"))
}

func TestCheck_EmptyBlocklist(t *testing.T) {
	f := NewFilter(Config{})
	assert.False(t, f.IsInappropriate("stupid"))
	assert.False(t, f.IsInappropriate(""))
	assert.Empty(t, f.Terms())
}

func TestCheck_NilFilter(t *testing.T) {
	var f *Filter
	assert.False(t, f.IsInappropriate("stupid"))
	assert.Nil(t, f.Terms())
}

func TestCheck_RegexpMetacharactersAreLiteral(t *testing.T) {
	f := NewFilter(Config{Blocklist: []string{"a.b", "c+"}})
	assert.True(t, f.IsInappropriate("A.B"))
	assert.False(t, f.IsInappropriate("axb"))
	assert.True(t, f.IsInappropriate("c+"))
	assert.False(t, f.IsInappropriate("ccc"))
}

func TestCheck_Idempotent(t *testing.T) {
	f := NewDefaultFilter()
	inputs := []string{"h4t3 speech", "hello there", "", "I d.u.m.b.ly missed this"}
	for _, in := range inputs {
		first := f.Check(in)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, f.Check(in))
		}
	}
}

func TestCheck_IndependentInstances(t *testing.T) {
	strict := NewFilter(Config{Blocklist: []string{"dumb"}})
	lenient := NewFilter(Config{Blocklist: []string{"hate"}})

	assert.True(t, strict.IsInappropriate("dumb"))
	assert.False(t, lenient.IsInappropriate("dumb"))
	assert.True(t, lenient.IsInappropriate("hate"))
	assert.False(t, strict.IsInappropriate("hate"))
}

func TestCheck_Concurrent(t *testing.T) {
	f := NewDefaultFilter()

	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if !f.IsInappropriate("h4t3 speech") || f.IsInappropriate("see you at the library") {
					t.Error("inconsistent verdict under concurrency")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestCompact(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"h a t e", "hate"},
		{"h.a.t.e", "hate"},
		{"st*p1d", "stp1d"},
		{"i d.u.m.b.ly missed this", "idumblymissedthis"},
		{"café", "caf"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compact(tt.input), "compact(%q)", tt.input)
	}
}

func TestDeleet(t *testing.T) {
	f := NewDefaultFilter()
	tests := []struct {
		input string
		want  string
	}{
		{"h4t3", "hate"},
		{"1d10t", "idiot"},
		{"57up1d", "stupid"},
		{"2b", "2b"},
		{"hello", "hello"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.deleet(tt.input), "deleet(%q)", tt.input)
	}
}

func TestScreen(t *testing.T) {
	f := NewDefaultFilter()
	v, err := f.Screen(context.Background(), "you idiot")
	require.NoError(t, err)
	assert.True(t, v.Blocked)
	assert.Equal(t, "idiot", v.Term)
}

func mixedCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i%2 == 0 {
			b.WriteString(strings.ToUpper(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func BenchmarkCheck_Clean(b *testing.B) {
	f := NewDefaultFilter()
	msg := "can someone explain question 4 from the calculus worksheet before friday?"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(msg)
	}
}

func BenchmarkCheck_Leet(b *testing.B) {
	f := NewDefaultFilter()
	msg := "honestly this whole h.4.t.3 thing is getting old"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(msg)
	}
}

func BenchmarkCheck_Long(b *testing.B) {
	f := NewDefaultFilter()
	msg := strings.Repeat("a perfectly normal study group message. ", 50)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(msg)
	}
}
