package config

import "os"

// Well-known environment variables consulted when the murmur-specific keys are unset.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvGeminiKey     = "GEMINI_API_KEY"
	EnvGoogleKey     = "GOOGLE_API_KEY"
	EnvElevenLabsKey = "ELEVENLABS_API_KEY"
	EnvElevenLabsVID = "ELEVENLABS_VOICE_ID"
	EnvLocalLLMURL   = "LOCAL_LLM_URL"
	EnvClaudeWorkDir = "CLAUDE_WORK_DIR"
)

func (c *Config) applyKeyFallbacks() {
	c.Speech.OpenAIKey = firstNonEmpty(c.Speech.OpenAIKey, os.Getenv(EnvOpenAIKey))
	c.Providers.GeminiAPIKey = firstNonEmpty(c.Providers.GeminiAPIKey, os.Getenv(EnvGeminiKey), os.Getenv(EnvGoogleKey))
	c.Speech.ElevenLabsKey = firstNonEmpty(c.Speech.ElevenLabsKey, os.Getenv(EnvElevenLabsKey))
	c.Speech.ElevenLabsVoice = firstNonEmpty(c.Speech.ElevenLabsVoice, os.Getenv(EnvElevenLabsVID))

	if v := os.Getenv(EnvLocalLLMURL); v != "" && c.Providers.LocalURL == Default().Providers.LocalURL {
		c.Providers.LocalURL = v
	}
	if v := os.Getenv(EnvClaudeWorkDir); v != "" && c.Providers.WorkDir == Default().Providers.WorkDir {
		c.Providers.WorkDir = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
