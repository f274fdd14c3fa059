// Package translation implements the language service client: it turns one
// audio segment into original-language and translated text via the OpenAI
// API (Whisper transcription plus chat-model translation). It owns the
// retry/backoff policy, the transient/permanent error taxonomy, the
// concurrent-call budget, and API key rotation.
package translation
