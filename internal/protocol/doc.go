// Package protocol implements the binary framing used on the streaming ASR connection.
// It handles the 4-byte header, the sequence/error-code and length prefixes, gzip
// payloads from the server, and assembly of the config and audio request frames.
package protocol
