// Package audio handles utterance ingestion, validation, and format conversion.
// It implements the upload allow-list, decoding of WAV and G.711 payloads to
// normalized mono PCM-16, duration bounds enforcement, and chunk accumulation
// for streamed input.
package audio
