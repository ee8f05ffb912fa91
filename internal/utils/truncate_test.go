package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in    string
		limit int
		want  string
	}{
		"non-positive limit":   {in: "python, sql", limit: 0, want: ""},
		"fits":                 {in: "python", limit: 10, want: "python"},
		"exact length":         {in: "python", limit: 6, want: "python"},
		"cut with ellipsis":    {in: "python, sql", limit: 6, want: "python..."},
		"multibyte runes kept": {in: "ñandú ñandú", limit: 5, want: "ñandú..."},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, TruncateForLog(tc.in, tc.limit))
		})
	}
}
