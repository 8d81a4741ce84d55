// Package canon renders scenario traces as canonical JSON (RFC 8785 key
// order, NFC strings, no floats or nulls) and hashes them with domain
// separation, so a trace has exactly one byte representation.
package canon
