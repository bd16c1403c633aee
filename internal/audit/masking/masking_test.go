package masking

import "testing"

func TestMaskSecret(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "****"},
		{"whsec_1234567890", "whsec_****7890"},
		{"plainsecretvalue", "****alue"},
	}
	for _, tc := range cases {
		if got := MaskSecret(tc.in); got != tc.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMaskICCID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "****"},
		{"1234", "****"},
		{"8944501234567890123", "****0123"},
	}
	for _, tc := range cases {
		if got := MaskICCID(tc.in); got != tc.want {
			t.Errorf("MaskICCID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
