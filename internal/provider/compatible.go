package provider

// Groq and NVIDIA are both OpenAI-compatible endpoints reachable through
// the same go-openai client as the native OpenAI variant (openai.go),
// parameterized by ProviderProfile — one Go type serving every
// BaseURL-only backend rather than a client per vendor (§4.5).

// groqFallbackModels is returned by FetchModels when Groq's list
// endpoint is unreachable; curated from Groq's published model catalog.
var groqFallbackModels = []Model{
	{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B Versatile"},
	{ID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B Instant"},
	{ID: "mixtral-8x7b-32768", Name: "Mixtral 8x7B"},
}

// nvidiaFallbackModels is returned by FetchModels when NVIDIA's NIM
// catalog endpoint is unreachable.
var nvidiaFallbackModels = []Model{
	{ID: "meta/llama-3.1-70b-instruct", Name: "Llama 3.1 70B Instruct"},
	{ID: "nvidia/nemotron-4-340b-instruct", Name: "Nemotron 4 340B Instruct"},
}

// NewGroq builds the Groq variant: OpenAI-compatible chat completions at
// Groq's endpoint, defaulting BaseURL when the operator did not override it.
func NewGroq(apiKey, baseURL string) Provider {
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	return NewCompatible(ProviderProfile{Key: "groq", BaseURL: baseURL, FallbackModels: groqFallbackModels}, apiKey)
}

// NewNVIDIA builds the NVIDIA NIM variant.
func NewNVIDIA(apiKey, baseURL string) Provider {
	if baseURL == "" {
		baseURL = "https://integrate.api.nvidia.com/v1"
	}
	return NewCompatible(ProviderProfile{Key: "nvidia", BaseURL: baseURL, FallbackModels: nvidiaFallbackModels}, apiKey)
}
