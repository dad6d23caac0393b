package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodDescription = "Build a scalable e-commerce backend with microservices handling fifty thousand concurrent users and PCI compliance"

func TestProjectDescription_Valid(t *testing.T) {
	res := ProjectDescription(goodDescription)
	assert.True(t, res.IsValid, res.Error)
	assert.Empty(t, res.Error)
}

func TestProjectDescription_Rejections(t *testing.T) {
	cases := []struct {
		name string
		in   string
		msg  string
	}{
		{"empty", "", MsgEmpty},
		{"whitespace", "   \n\t ", MsgEmpty},
		{"short", "tiny app", MsgTooShort},
		{"hello", "hello", MsgTooShort},
		{"long", strings.Repeat("a", MaxLength+1), MsgTooLong},
		{"profanity short", "this is shit", MsgProfanity},
		{"profanity inside valid text", goodDescription + " and no shitty code", MsgProfanity},
		{"transliterated", "ye chutiya project banana hai jaldi se please", MsgProfanity},
		{"few words", "a web app for my cats and dogs", MsgTooFewWords},
		{"numbers and letters only", "1 2 3 4 5 6 7 8 9 10 11 12 a b c d e f", MsgTooFewWords},
		{"repetitive", "test test test test test test test test test test", MsgRepetitive},
		{"lorem", "Lorem ipsum dolor sit amet consectetur adipiscing elit sed eiusmod tempor incididunt", MsgPlaceholder},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res := ProjectDescription(c.in)
			assert.False(t, res.IsValid)
			assert.Equal(t, c.msg, res.Error)
		})
	}
}

func TestProjectDescription_LengthBoundaries(t *testing.T) {
	for n := 0; n < MinLength; n++ {
		assert.False(t, ProjectDescription(strings.Repeat("x", n)).IsValid, "length %d", n)
	}
	words := strings.Fields(goodDescription)
	long := strings.Join(words, " ")
	for len(long) <= MaxLength {
		long += " " + strings.Join(words, " ")
	}
	res := ProjectDescription(long)
	assert.Equal(t, MsgTooLong, res.Error)
}

func TestProjectDescription_LengthIgnoresSurroundingSpace(t *testing.T) {
	pad := strings.Repeat(" ", 5)
	assert.Equal(t, MsgTooLong, ProjectDescription(pad+strings.Repeat("a", MaxLength+1)).Error)
	assert.NotEqual(t, MsgTooLong, ProjectDescription(pad+strings.Repeat("a", MaxLength)+pad).Error)
	assert.Equal(t, MsgTooShort, ProjectDescription(pad+strings.Repeat("b", MinLength-1)+"\n\t").Error)

	// counted in characters, not bytes
	accented := strings.Repeat("é", MaxLength)
	require.Greater(t, len(accented), MaxLength)
	assert.NotEqual(t, MsgTooLong, ProjectDescription(accented).Error)
}

func TestProjectDescription_LengthCheckedBeforeProfanity(t *testing.T) {
	assert.Equal(t, MsgTooShort, ProjectDescription("shit").Error)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world its me", Normalize("  Hello,   WORLD!! It's\tme. "))
}

func TestMeaningfulWords(t *testing.T) {
	words := MeaningfulWords(Normalize("The API handles 5000 requests in a second, x y z"))
	require.Equal(t, []string{"api", "handles", "requests", "second"}, words)
}

func TestUniqueRatio(t *testing.T) {
	assert.InDelta(t, 0.5, UniqueRatio([]string{"a", "b", "a", "b"}), 1e-9)
	assert.Zero(t, UniqueRatio(nil))
}
