// Package audio provides the sinks that consume generated audio: a streaming
// player backed by oto/v3 and a WAV file writer. Every sink acknowledges each
// unit once it has been consumed, which is what releases generation slots.
package audio
