// Package transcription implements the streaming recognition session.
// A Session owns one WebSocket connection: it sends the config frame, paces audio
// chunks in real time, reads server frames concurrently and stitches definite
// results into the final transcript. Service runs sessions with bounded concurrency.
package transcription
