// Package protocol defines the wire format exchanged between the host and a
// running script: newline-delimited JSON, one message per line, with a
// "type" field discriminating the message kind.
//
// Inbound (script → host) messages are prompts: requests for interactive
// input correlated by id. Outbound (host → script) messages are submit
// responses and exit signals. The codec never fails hard on malformed
// input: a line that cannot be decoded yields a *DecodeError that the
// caller logs and drops, because scripts routinely write stray diagnostic
// output to stdout.
package protocol
