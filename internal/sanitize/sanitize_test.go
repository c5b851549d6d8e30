package sanitize

import "testing"

func TestText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Day 1: visit the Louvre.", want: "Day 1: visit the Louvre."},
		{name: "crlf", in: "a\r\nb\rc", want: "a\nb\nc"},
		{name: "quotes", in: "“hello” ‘x’", want: `"hello" 'x'`},
		{name: "dashes", in: "a–b—c…", want: "a-b-c..."},
		{name: "accents", in: "café crème", want: "cafe creme"},
		{name: "control", in: "tab\tok\x00\x07\x1b!", want: "tab\tok!"},
		{name: "empty", in: "", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Text(tc.in); got != tc.want {
				t.Fatalf("Text(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestTextOutputIsPrintableASCII(t *testing.T) {
	out := Text("東京 🚀 Zürich ½ ﬁ")
	for i := 0; i < len(out); i++ {
		c := out[i]
		if c >= 0x7f || (c < 0x20 && c != '\n' && c != '\t') {
			t.Fatalf("输出包含非法字符 %q: %q", c, out)
		}
	}
}

func TestTextIsIdempotent(t *testing.T) {
	inputs := []string{
		"Hello, world!\nSecond line\twith tab",
		"“smart” quotes — and … ellipsis",
		"naïve façade",
		"mixed\r\nendings\r",
	}
	for _, in := range inputs {
		once := Text(in)
		if twice := Text(once); twice != once {
			t.Fatalf("二次清洗结果变化: %q -> %q", once, twice)
		}
	}
}
