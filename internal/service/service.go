// Package service orchestrates the request flow: Gemini request in,
// OpenAI call out, Gemini response back, with every stage recorded to
// the audit sink.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/gembridge/gembridge/internal/audit"
	"github.com/gembridge/gembridge/internal/config"
	"github.com/gembridge/gembridge/internal/json"
	log "github.com/gembridge/gembridge/internal/logging"
	"github.com/gembridge/gembridge/internal/streamutil"
	"github.com/gembridge/gembridge/internal/translator"
	"github.com/gembridge/gembridge/internal/upstream"
)

// Service converts Gemini-dialect generation requests into OpenAI
// chat-completions calls and converts the results back.
type Service struct {
	client upstream.Client
	models *translator.ModelMapper
	sink   audit.Sink
}

// NewService wires the service dependencies.
func NewService(client upstream.Client, models *translator.ModelMapper, sink audit.Sink) *Service {
	return &Service{client: client, models: models, sink: sink}
}

// Models returns the model mapper, for the listing endpoint and hot
// reload.
func (s *Service) Models() *translator.ModelMapper {
	return s.models
}

// resolveModel applies the default Gemini model before mapping. Requests
// without a model name still get a deterministic upstream target.
func (s *Service) resolveModel(geminiModel string) string {
	if geminiModel == "" {
		geminiModel = config.DefaultGeminiModel
	}
	return s.models.Resolve(geminiModel)
}

func (s *Service) record(ctx context.Context, correlationID, stage, endpoint, description string, payload []byte) {
	s.sink.Record(ctx, audit.Entry{
		CorrelationID: correlationID,
		Stage:         stage,
		Endpoint:      endpoint,
		Description:   description,
		Payload:       audit.SafePayload(payload),
		At:            time.Now(),
	})
}

func (s *Service) recordError(ctx context.Context, correlationID, stage, endpoint string, err error) {
	s.record(ctx, correlationID, stage, endpoint, "conversion pipeline error", []byte(err.Error()))
}

// GenerateContent handles one non-streaming generation request. body
// is the raw Gemini-dialect request; the returned bytes are the
// Gemini-dialect response.
func (s *Service) GenerateContent(ctx context.Context, geminiModel string, body []byte, correlationID string) ([]byte, error) {
	const endpoint = "generateContent"

	s.record(ctx, correlationID, audit.StageGeminiRequest, endpoint, "incoming request for "+geminiModel, body)

	payload, err := translator.BuildChatRequest(s.resolveModel(geminiModel), gjson.ParseBytes(body), false)
	if err != nil {
		s.recordError(ctx, correlationID, audit.StageError, endpoint, err)
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}
	s.record(ctx, correlationID, audit.StageOpenAIRequest, endpoint, "converted upstream request", payload)

	resp, err := s.client.CreateChatCompletion(ctx, payload)
	if err != nil {
		s.recordError(ctx, correlationID, audit.StageError, endpoint, err)
		return nil, err
	}
	s.record(ctx, correlationID, audit.StageOpenAIResponse, endpoint, "raw upstream response", resp)

	out, err := translator.ConvertResponse(resp)
	if err != nil {
		s.recordError(ctx, correlationID, audit.StageError, endpoint, err)
		return nil, fmt.Errorf("failed to convert response: %w", err)
	}
	if out == nil {
		out = translator.EmptyResponse()
	}
	s.record(ctx, correlationID, audit.StageGeminiResponse, endpoint, "converted response", out)

	return out, nil
}

// StreamGenerateContent handles one streaming generation request. The
// returned channel carries converted Gemini-dialect chunks and closes
// when the stream ends. Errors after the stream opens are delivered
// in-band as error chunks.
func (s *Service) StreamGenerateContent(ctx context.Context, geminiModel string, body []byte, correlationID string) (<-chan streamutil.Chunk, error) {
	const endpoint = "streamGenerateContent"

	s.record(ctx, correlationID, audit.StageGeminiRequest, endpoint, "incoming request for "+geminiModel, body)

	payload, err := translator.BuildChatRequest(s.resolveModel(geminiModel), gjson.ParseBytes(body), true)
	if err != nil {
		s.recordError(ctx, correlationID, audit.StageError, endpoint, err)
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}
	s.record(ctx, correlationID, audit.StageOpenAIRequest, endpoint, "converted upstream request", payload)

	stream, err := s.client.CreateChatCompletionStream(ctx, payload)
	if err != nil {
		s.recordError(ctx, correlationID, audit.StageError, endpoint, err)
		return nil, err
	}

	pipeline := streamutil.NewPipeline(ctx, 0)
	pipeline.Go(func(ctx context.Context) error {
		defer stream.Close()
		s.streamExchange(ctx, stream, pipeline, correlationID, endpoint)
		return nil
	})
	pipeline.Start()

	return pipeline.Output(), nil
}

// sampleChunk reports whether the nth chunk of a stream gets an audit
// entry. Early chunks are all kept, later ones are sampled to bound
// storage.
func sampleChunk(n int) bool {
	return n < 5 || n%10 == 0
}

func (s *Service) streamExchange(ctx context.Context, stream upstream.ChunkStream, pipeline *streamutil.Pipeline, correlationID, endpoint string) {
	acc := translator.NewStreamAccumulator()
	emitted := 0

	for {
		data, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			log.WithError(err).Warnf("Upstream stream failed mid-flight")
			s.recordError(ctx, correlationID, audit.StageStreamError, endpoint, err)
			pipeline.SendError(err)
			return
		}

		n := acc.ChunksSeen()
		if sampleChunk(n) {
			s.record(ctx, correlationID, audit.StageOpenAIStreamChunk+"_"+strconv.Itoa(n), endpoint, "raw upstream chunk", data)
		}

		out := acc.ConsumeChunk(data)
		if out == nil {
			continue
		}
		if sampleChunk(n) {
			s.record(ctx, correlationID, audit.StageGeminiStreamChunk+"_"+strconv.Itoa(n), endpoint, "converted chunk", out)
		}
		if !pipeline.SendData(out) {
			return
		}
		emitted++
	}

	residual, dropped := acc.FlushResidual()
	for _, chunk := range residual {
		s.record(ctx, correlationID, audit.StageGeminiStreamChunk+"_FINAL", endpoint, "residual tool call flushed at stream end", chunk)
		if !pipeline.SendData(chunk) {
			return
		}
		emitted++
	}
	if dropped > 0 {
		log.Warnf("Dropped %d unparseable residual tool calls at stream end", dropped)
	}

	summary, err := json.Marshal(map[string]any{
		"upstreamChunks": acc.ChunksSeen(),
		"emittedChunks":  emitted,
		"droppedCalls":   dropped,
	})
	if err == nil {
		s.record(ctx, correlationID, audit.StageStreamSummary, endpoint, "stream completed", summary)
	}
}
