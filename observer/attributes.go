package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for Caravan observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrRequestID       = attribute.Key("moe.request_id")
	AttrPath            = attribute.Key("moe.path")
	AttrStrategy        = attribute.Key("moe.selection_strategy")
	AttrFellOpen        = attribute.Key("moe.fell_open")
	AttrSynthesisUsed   = attribute.Key("moe.synthesis_used")
	AttrPreservedBlocks = attribute.Key("moe.preserved_blocks")
	AttrError           = attribute.Key("moe.error")

	AttrAgentID     = attribute.Key("moe.agent_id")
	AttrAgentStatus = attribute.Key("moe.agent_status")
	AttrErrorKind   = attribute.Key("moe.error_kind")
)
