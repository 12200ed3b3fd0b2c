package engine

// SynthesizedReply returns the human-readable assistant message the
// pipeline leaves in a conversation when a terminal failure would
// otherwise leave it silently stuck. Categories without a reply (the
// retryable ones and superseded runs) return "".
func SynthesizedReply(c Category) string {
	switch c {
	case CategoryQuota:
		return "I can't answer right now because the AI usage quota for this " +
			"workspace has been exhausted. Please check the billing settings " +
			"of the connected AI account and try again afterwards."
	case CategoryTimeout:
		return "The AI service took too long to respond, so this request was " +
			"abandoned. This is usually temporary. Please try sending your " +
			"message again in a few minutes."
	case CategoryTokenLimitCompletion:
		return "The reply was cut off because it hit the maximum response " +
			"length configured for this assistant. An administrator can raise " +
			"the completion token limit in the assistant settings."
	case CategoryTokenLimitPrompt:
		return "This conversation has grown past the maximum context length " +
			"configured for this assistant. Start a new conversation, or ask " +
			"an administrator to raise the prompt token limit in the " +
			"assistant settings."
	case CategoryLegacyFunctions:
		return "This assistant is configured with a deprecated function-calling " +
			"capability and cannot answer. An administrator needs to update " +
			"the assistant's tool configuration on the AI provider."
	case CategoryAssistantNotFound:
		return "The assistant connected to this conversation no longer exists " +
			"on the AI provider. An administrator needs to reconnect or " +
			"recreate the assistant."
	default:
		return ""
	}
}
