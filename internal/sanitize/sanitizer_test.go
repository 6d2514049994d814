package sanitize_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-reader/internal/sanitize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func permissive(dict ...sanitize.Replacement) *sanitize.Sanitizer {
	return sanitize.New(sanitize.Options{Dictionary: dict})
}

func TestClean_Normalization(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "trim", input: "  Hello World  ", expected: []string{"Hello World"}},
		{name: "url", input: "Link: http://example.com", expected: []string{"Link:"}},
		{name: "markdown link", input: "Some text [link](http://url)", expected: []string{"Some text link"}},
		{name: "markdown image", input: "before ![alt](http://img/x.png) after", expected: []string{"before after"}},
		{name: "code fence", input: "intro\n```go\nfmt.Println()\n```\noutro", expected: []string{"intro", "outro"}},
		{name: "structural chars", input: "# Title {x} | > `code`", expected: []string{"Title x code"}},
		{name: "horizontal rule", input: "above\n-----\n=====\nbelow", expected: []string{"above", "below"}},
		{name: "emphasis", input: "**bold** text", expected: []string{"bold text"}},
		{name: "whitespace", input: "a \t  b　　c", expected: []string{"a b c"}},
		{name: "blank lines", input: "one\n\n   \r\ntwo\r\n", expected: []string{"one", "two"}},
		{name: "ruby", input: "漢字（かんじ）を読む", expected: []string{"かんじを読む"}},
		{name: "ruby ascii parens", input: "明日(あした)", expected: []string{"あした"}},
	}

	s := permissive()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			lines, err := s.Clean(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, lines)
		})
	}
}

func TestClean_DictionaryIsLiteralAndOrdered(t *testing.T) {
	t.Parallel()

	s := permissive(sanitize.Replacement{Term: "foo", Reading: "bar"})
	lines, err := s.Clean("foo world")
	require.NoError(t, err)
	assert.Equal(t, []string{"bar world"}, lines)

	// Regex metacharacters in terms are literal.
	s = permissive(sanitize.Replacement{Term: "ver.", Reading: "バージョン"})
	lines, err = s.Clean("ver.2 vera")
	require.NoError(t, err)
	assert.Equal(t, []string{"バージョン2 vera"}, lines)

	// Earlier entries win over later overlapping ones.
	s = permissive(
		sanitize.Replacement{Term: "Q&A", Reading: "キューアンドエー"},
		sanitize.Replacement{Term: "&", Reading: "アンド"},
	)
	lines, err = s.Clean("Q&A & more")
	require.NoError(t, err)
	assert.Equal(t, []string{"キューアンドエー アンド more"}, lines)
}

func TestClean_DictionaryAppliesOncePerTerm(t *testing.T) {
	t.Parallel()

	// A reading that contains its own term is not expanded again.
	s := permissive(sanitize.Replacement{Term: "Go", Reading: "Go言語"})
	lines, err := s.Clean("Goで書く")
	require.NoError(t, err)
	assert.Equal(t, []string{"Go言語で書く"}, lines)

	// Output of a later entry is not fed back into an earlier one.
	s = permissive(
		sanitize.Replacement{Term: "B", Reading: "C"},
		sanitize.Replacement{Term: "A", Reading: "B"},
	)
	lines, err = s.Clean("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, lines)
}

func TestClean_DictionaryRunsBeforeSymbolStripping(t *testing.T) {
	t.Parallel()

	s := permissive(sanitize.Replacement{Term: "C#", Reading: "シーシャープ"})
	lines, err := s.Clean("C# code")
	require.NoError(t, err)
	assert.Equal(t, []string{"シーシャープ code"}, lines)
}

func TestClean_RequireHiragana(t *testing.T) {
	t.Parallel()

	s := sanitize.New(sanitize.Options{RequireHiragana: true})

	lines, err := s.Clean("こんにちは")
	require.NoError(t, err)
	assert.Equal(t, []string{"こんにちは"}, lines)

	for _, input := range []string{"Hello World", "漢字カタカナ", ""} {
		_, err := s.Clean(input)
		assert.True(t, errors.Is(err, sanitize.ErrRejected), "input %q", input)
	}

	// Disabled policy never rejects on script.
	lines, err = permissive().Clean("漢字カタカナ")
	require.NoError(t, err)
	assert.Equal(t, []string{"漢字カタカナ"}, lines)
}

func TestClean_MinLength(t *testing.T) {
	t.Parallel()

	s := sanitize.New(sanitize.Options{MinLength: 5})

	_, err := s.Clean("ab\ncd")
	assert.ErrorIs(t, err, sanitize.ErrRejected)

	lines, err := s.Clean("ab\ncde")
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "cde"}, lines)

	// Stripped markup does not count toward the threshold.
	_, err = s.Clean("## ---- http://example.com/very/long/path")
	assert.ErrorIs(t, err, sanitize.ErrRejected)
}

func TestClean_SplitSentences(t *testing.T) {
	t.Parallel()

	s := sanitize.New(sanitize.Options{RequireHiragana: true, MinLength: 5, SplitSentences: true})
	lines, err := s.Clean("こんにちは。今日はいい天気です。")
	require.NoError(t, err)
	assert.Equal(t, []string{"こんにちは。", "今日はいい天気です。"}, lines)

	lines, err = s.Clean("本当ですか？はい！そうです")
	require.NoError(t, err)
	assert.Equal(t, []string{"本当ですか？", "はい！", "そうです"}, lines)
}

func TestClean_Deterministic(t *testing.T) {
	t.Parallel()

	s := sanitize.New(sanitize.Options{
		Dictionary:     []sanitize.Replacement{{Term: "OK", Reading: "オーケー"}},
		SplitSentences: true,
	})
	input := "# 見出し\nOKです。[詳細](https://example.com/a?b=c)を見てね。"
	first, err := s.Clean(input)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := s.Clean(input)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestClean_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"  Hello World  ",
		"Some text [link](http://url) and more",
		"ht--tp://example.com hidden url",
		"**強調**と`コード`と漢字（かんじ）。\n\n次の行です。",
		"a [b](c) ![d](e) {f} #g |h| >i",
	}
	s := sanitize.New(sanitize.Options{SplitSentences: true})
	for _, input := range inputs {
		first, err := s.Clean(input)
		require.NoError(t, err, input)
		second, err := s.Clean(strings.Join(first, "\n"))
		require.NoError(t, err, input)
		assert.Equal(t, first, second, input)
	}
}

func TestContainsHiragana(t *testing.T) {
	t.Parallel()

	assert.True(t, sanitize.ContainsHiragana("abcあ"))
	assert.False(t, sanitize.ContainsHiragana("アイウ漢字abc"))
}
