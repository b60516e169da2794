package envelope

import (
	"testing"
)

func FuzzDecode(f *testing.F) {
	f.Add("aGVsbG8")
	f.Add("")
	f.Add("====")
	f.Add("ver=1")
	f.Fuzz(func(t *testing.T, s string) {
		data, err := Decode(s)
		if err != nil {
			return
		}
		// Whatever decodes must re-encode to a decodable form of the same
		// bytes.
		again, err := Decode(Encode(data))
		if err != nil {
			t.Fatalf("re-decode failed: %v", err)
		}
		if string(again) != string(data) {
			t.Fatalf("round trip mismatch: %q != %q", again, data)
		}
	})
}

func FuzzParseBlock(f *testing.F) {
	f.Add([]byte("ver=1\r\ncmd=query\r\n"))
	f.Add([]byte("\r\n\r\n"))
	f.Add([]byte("a=b=c\r\n"))
	f.Fuzz(func(t *testing.T, data []byte) {
		// Must never panic; errors are fine.
		_, _ = ParseBlock(data)
	})
}
