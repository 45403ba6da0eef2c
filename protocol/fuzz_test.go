package protocol

import (
	"encoding/json"
	"testing"
)

func FuzzDecodeLine(f *testing.F) {
	f.Add([]byte(`{"type":"arg","id":"p1","placeholder":"Pick one"}`))
	f.Add([]byte(`{"type":"select","id":"p2","choices":[{"name":"a","value":"a"}]}`))
	f.Add([]byte(`{"type":"exit","code":3}`))
	f.Add([]byte(`{"type":"hello","protocol":1}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`not json`))
	f.Add([]byte(``))

	f.Fuzz(func(t *testing.T, line []byte) {
		msg, err := DecodeLine(line)
		if err != nil {
			return // bad input is fine, panics are bugs
		}
		if msg.Type == "" {
			t.Errorf("DecodeLine(%q) accepted a message with no type", line)
		}
		// Accepted messages must survive the accessors.
		msg.RequiresResponse()
		msg.ExitCode()
	})
}

func FuzzEncodeSubmit(f *testing.F) {
	f.Add("p1", "hello")
	f.Add("", "")
	f.Add("id-with-\"quotes\"", "value\nwith\nnewlines")

	f.Fuzz(func(t *testing.T, id, value string) {
		out, err := Encode(Submit(id, value))
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if out[len(out)-1] != '\n' {
			t.Error("Encode() output not newline terminated")
		}
		var wire map[string]any
		if err := json.Unmarshal(out, &wire); err != nil {
			t.Fatalf("Encode() produced invalid JSON: %v", err)
		}
		if wire["value"] != value {
			t.Errorf("value = %v, want %q", wire["value"], value)
		}
	})
}
