// Package llms holds what the text generation clients have in common:
// sampling settings and the chunked stream they produce.
package llms

import (
	"context"
	"strings"
)

const (
	DefaultTemperature     float32 = 0.2
	DefaultTopP            float32 = 0.8
	DefaultTopK                    = 40
	DefaultMaxOutputTokens         = 2048
)

// Sampling configures a generation request.
type Sampling struct {
	Instructions    string
	Temperature     float32
	TopP            float32
	TopK            int
	MaxOutputTokens int
}

func DefaultSampling() Sampling {
	return Sampling{
		Temperature:     DefaultTemperature,
		TopP:            DefaultTopP,
		TopK:            DefaultTopK,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
}

type SamplingOption func(*Sampling)

func WithInstructions(instructions string) SamplingOption {
	return func(s *Sampling) { s.Instructions = instructions }
}

func WithTemperature(temperature float32) SamplingOption {
	return func(s *Sampling) { s.Temperature = temperature }
}

func WithTopP(topP float32) SamplingOption {
	return func(s *Sampling) { s.TopP = topP }
}

func WithTopK(topK int) SamplingOption {
	return func(s *Sampling) { s.TopK = topK }
}

func WithMaxOutputTokens(tokens int) SamplingOption {
	return func(s *Sampling) { s.MaxOutputTokens = tokens }
}

func (s Sampling) With(opts ...SamplingOption) Sampling {
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

type StreamChunk interface {
	FinishReason() *string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Collect drains a stream and returns the concatenated content. It stops at
// the first error.
func Collect(ctx context.Context, stream Stream) (string, error) {
	var response strings.Builder
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			return response.String(), err
		}
		if content, ok := chunk.(StreamContentChunk); ok {
			response.WriteString(content.Content())
		}
	}
	return response.String(), nil
}
