package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"russian mobile leading 7", "79161234567", "89161234567"},
		{"already domestic form", "89161234567", "89161234567"},
		{"formatted input", "+7 (916) 123-45-67", "89161234567"},
		{"short number untouched", "15551234", "15551234"},
		{"foreign 11 digits untouched", "15551234567", "15551234567"},
		{"empty", "", ""},
		{"letters stripped", "tel:7916ABC1234567", "89161234567"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"79161234567", "+7 916 123-45-67", "15551234", "89161234567"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "second pass must not change %q", in)
	}
}
