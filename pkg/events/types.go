package events

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Event types emitted by the pipeline.
const (
	RecordingStart = "recording.start"
	RecordingStop  = "recording.stop"

	VADSpeech  = "vad.speech"
	VADSilence = "vad.silence"

	STTResult = "stt.result"

	RouterResult = "router.result"

	RefinerResult  = "refiner.result"
	RefinerToggle  = "refiner.toggle"
	RefinerSkipped = "refiner.skipped"

	ProviderRequest  = "provider.request"
	ProviderResponse = "provider.response"
	ProviderError    = "provider.error"
	ProviderTimeout  = "provider.timeout"

	TTSStart     = "tts.start"
	TTSStop      = "tts.stop"
	TTSInterrupt = "tts.interrupt"

	ConfirmationAsk      = "confirmation.ask"
	ConfirmationResponse = "confirmation.response"

	SafetyCheck   = "safety.check"
	SafetyBlocked = "safety.blocked"

	RunStart = "run.start"
	RunEnd   = "run.end"

	MetricsUpdate = "metrics.update"
	StateChange   = "state.change"
	Error         = "error"
)

// Types lists every known event type.
var Types = []string{
	RecordingStart, RecordingStop,
	VADSpeech, VADSilence,
	STTResult,
	RouterResult,
	RefinerResult, RefinerToggle, RefinerSkipped,
	ProviderRequest, ProviderResponse, ProviderError, ProviderTimeout,
	TTSStart, TTSStop, TTSInterrupt,
	ConfirmationAsk, ConfirmationResponse,
	SafetyCheck, SafetyBlocked,
	RunStart, RunEnd,
	MetricsUpdate, StateChange, Error,
}
