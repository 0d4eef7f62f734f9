package nl2sql

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/csvqa/csvqa/internal/llm"
	"github.com/csvqa/csvqa/internal/observability"
)

const DefaultFAQSystemPrompt = "You are SMRT Laundry Assistant. " +
	"Answer customer questions about garment care, dry cleaning, stain removal, pickup & delivery, and pricing policies. " +
	"Be concise, factual, and friendly. If policy details are unclear, suggest contacting support."

// Fixed replies; raw generator errors never reach the user.
const (
	FAQUnavailableReply = "Sorry, the FAQ assistant is not available right now."
	FAQEmptyReply       = "Sorry, I couldn't find the right info."
	FAQBusyReply        = "I'm a bit busy right now (rate limit). Please try again in a moment."
	FAQErrorReply       = "Oops, something went wrong while generating the answer."
)

// FAQ answers conversational questions. Answer always returns user-safe text.
type FAQ struct {
	generator    llm.Generator
	systemPrompt string
	logger       *slog.Logger
}

func NewFAQ(generator llm.Generator, systemPrompt string, logger *slog.Logger) *FAQ {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultFAQSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FAQ{generator: generator, systemPrompt: systemPrompt, logger: logger}
}

func (f *FAQ) Answer(ctx context.Context, question string) string {
	if f == nil || f.generator == nil {
		observability.ObserveGeneratorCall("faq", "unavailable")
		return FAQUnavailableReply
	}

	text, err := f.generator.Generate(ctx, llm.Prompt{
		System:          f.systemPrompt,
		User:            question,
		Temperature:     0.3,
		TopP:            0.9,
		MaxOutputTokens: 512,
	})
	switch {
	case err == nil:
		observability.ObserveGeneratorCall("faq", "ok")
		if strings.TrimSpace(text) == "" {
			return FAQEmptyReply
		}
		return strings.TrimSpace(text)
	case errors.Is(err, llm.ErrEmptyResponse):
		observability.ObserveGeneratorCall("faq", "empty")
		return FAQEmptyReply
	case errors.Is(err, llm.ErrRateLimited):
		observability.ObserveGeneratorCall("faq", "rate_limited")
		f.logger.WarnContext(ctx, "faq_rate_limited", slog.Any("error", err))
		return FAQBusyReply
	default:
		observability.ObserveGeneratorCall("faq", "error")
		f.logger.WarnContext(ctx, "faq_generate_failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.Any("error", err),
		)
		return FAQErrorReply
	}
}
