package ollama

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	kerrors "github.com/vinayprograms/ollamakit/errors"
	"github.com/vinayprograms/ollamakit/eventloop"
)

// OpenAIClient streams chat through Ollama's OpenAI-compatible endpoint
// (/v1/chat/completions). It borrows the HTTP client of an installed Client,
// so the two share one lifecycle.
type OpenAIClient struct {
	client *Client
	apiKey string
}

// NewOpenAIClient creates an OpenAIClient on top of c. Ollama ignores the
// API key, but the SDK insists on one.
func NewOpenAIClient(c *Client) *OpenAIClient {
	return &OpenAIClient{client: c, apiKey: "ollama"}
}

// StreamChat has the same contract as Client.StreamChat. Content deltas
// become RecordDelta records and the end of the stream becomes one
// RecordDone record.
func (o *OpenAIClient) StreamChat(ctx context.Context, req ChatRequest, h Handler) error {
	hc, err := o.client.httpClient()
	if err != nil {
		return err
	}
	address := NormalizeAddress(req.Address)

	sdk := openai.NewClient(
		option.WithBaseURL(address+"/v1/"),
		option.WithAPIKey(o.apiKey),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	)

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: toOpenAIMessages(req.Messages),
	}

	o.client.logger.RequestStart(address, req.Model, len(req.Messages))

	var stream *ssestream.Stream[openai.ChatCompletionChunk]
	_ = eventloop.Suspend(ctx, func() error {
		stream = sdk.Chat.Completions.NewStreaming(ctx, params)
		return nil
	})
	defer stream.Close()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := stream.Err(); err != nil {
		return classifyOpenAI(ctx, address, err)
	}
	h.OnConnect()

	var model, finish string
	for {
		var more bool
		_ = eventloop.Suspend(ctx, func() error {
			more = stream.Next()
			return nil
		})
		if err := ctx.Err(); err != nil {
			return err
		}
		if !more {
			break
		}

		chunk := stream.Current()
		model = chunk.Model
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				finish = string(choice.FinishReason)
			}
			if choice.Delta.Content == "" {
				continue
			}
			role := string(choice.Delta.Role)
			if role == "" {
				role = "assistant"
			}
			rec := StreamRecord{
				Model:   chunk.Model,
				Message: Message{Role: role, Content: choice.Delta.Content},
			}
			if err := h.OnRecord(rec); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return classifyOpenAI(ctx, address, err)
	}

	return h.OnRecord(StreamRecord{Model: model, Done: true, DoneReason: finish})
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func classifyOpenAI(ctx context.Context, address string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return kerrors.HTTPStatus(apiErr.StatusCode, http.StatusText(apiErr.StatusCode), apiErr.Message)
	}
	return classifyTransport(ctx, address, err)
}
