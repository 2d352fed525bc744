// ABOUTME: Static informational cards for the /morpheus command.
// ABOUTME: Help, models and about cards share the chat.Card model.

package assistant

import "github.com/2389/morpheus-assistant/internal/chat"

// ActionAskQuestion is the action ID of the "Ask a question" button.
const ActionAskQuestion = "ask_question"

// Models lists the models offered by the Morpheus API gateway.
var Models = []chat.Field{
	{Label: "llama-3.3-70b", Value: "Meta's Llama 3.3 — general purpose (default)"},
	{Label: "llama-3.3-70b:web", Value: "Llama 3.3 with web search tool calling"},
	{Label: "qwen3-235b", Value: "Alibaba's Qwen 3 — large model"},
	{Label: "qwen3-235b:web", Value: "Qwen 3 with web search tool calling"},
}

// HelpCard describes how to use the bot.
func HelpCard() *chat.Card {
	return &chat.Card{
		Title: "🟢 Morpheus Assistant",
		Text: []string{
			"I'm an AI assistant powered by the **Morpheus decentralized AI network**. Here's how to use me:",
		},
		Fields: []chat.Field{
			{Label: "@mention me", Value: "Mention me in any channel to start a conversation"},
			{Label: "/ask", Value: "Ask a one-off question: /ask What is Morpheus?"},
			{Label: "/morpheus help", Value: "Show this help message"},
			{Label: "/morpheus models", Value: "List available AI models"},
			{Label: "/morpheus about", Value: "Learn about Morpheus"},
		},
		Links: []chat.Link{
			{Label: "Learn about Morpheus", URL: "https://mor.org"},
			{Label: "Get an API Key", URL: "https://app.mor.org"},
			{Label: "Source Code", URL: "https://github.com/MorpheusAIs/morpheus-assistant"},
		},
		Buttons: []chat.Button{
			{ActionID: ActionAskQuestion, Label: "Ask a question"},
		},
	}
}

// ModelsCard lists the available models and marks the configured one.
func ModelsCard(current string) *chat.Card {
	return &chat.Card{
		Title:  "🤖 Available Models",
		Text:   []string{"Models available through the Morpheus AI Gateway:"},
		Fields: Models,
		Footer: "Current model: **" + current + "**",
	}
}

// AboutCard describes the Morpheus network.
func AboutCard() *chat.Card {
	return &chat.Card{
		Title: "About Morpheus",
		Text: []string{
			"**Morpheus** is a decentralized AI infrastructure network that provides open access to AI compute, models, and agents.",
			"This assistant runs on the Morpheus API Gateway, which routes requests to the highest-rated compute providers in the network. AI inference is currently **free** for all users.",
		},
		Links: []chat.Link{
			{Label: "Morpheus Website", URL: "https://mor.org"},
			{Label: "API Documentation", URL: "https://apidocs.mor.org"},
			{Label: "Get Started", URL: "https://app.mor.org"},
		},
	}
}
