package languages

import "testing"

func TestSupported(t *testing.T) {
	for _, c := range []string{"es", " FR ", "hi"} {
		if !Supported(c) {
			t.Fatalf("expected %q to be supported", c)
		}
	}
	for _, c := range []string{"", "en", "xx"} {
		if Supported(c) {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}

func TestName(t *testing.T) {
	if got := Name("ja"); got != "Japanese" {
		t.Fatalf("Name(ja) = %q", got)
	}
	if got := Name("tlh"); got != "tlh" {
		t.Fatalf("unknown code must pass through, got %q", got)
	}
}

func TestCodes(t *testing.T) {
	codes := Codes()
	if len(codes) != 11 || codes[0] != "ar" || codes[len(codes)-1] != "zh" {
		t.Fatalf("unexpected codes %v", codes)
	}
}
