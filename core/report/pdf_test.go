package report

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func Test_clip(t *testing.T) {
	tests := []struct {
		name string
		s    string
		max  int
		want string
	}{
		{name: "short untouched", s: "John Student", max: 20, want: "John Student"},
		{name: "exact fit", s: "abcde", max: 5, want: "abcde"},
		{name: "clipped", s: "abcdef", max: 5, want: "abcd…"},
		{name: "multi byte name", s: "Amélie Dupré-Müller", max: 10, want: "Amélie Du…"},
		{name: "wide runes", s: "山田太郎と仲間たち", max: 6, want: "山田太郎と…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clip(tt.s, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
