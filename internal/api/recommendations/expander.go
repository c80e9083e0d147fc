package recommendations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-citytailor/internal/api/tracking"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

var _ tracking.Expander = (*Expander)(nil)

// TextGenerator is satisfied by *generativeAI.AIClient.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error)
}

const defaultTemperature = 0.4

// Expander asks a generative model for places that complement the ranked
// list.
type Expander struct {
	logger *slog.Logger
	gen    TextGenerator
}

func NewExpander(gen TextGenerator, logger *slog.Logger) *Expander {
	return &Expander{logger: logger, gen: gen}
}

type suggestion struct {
	Name        string `json:"name"`
	City        string `json:"city"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

func expansionPrompt(city string, categories, exclude []string, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest %d places worth visiting", n)
	if city != "" {
		fmt.Fprintf(&b, " in %s", city)
	}
	if len(categories) > 0 {
		fmt.Fprintf(&b, " for a traveler interested in %s", strings.Join(categories, ", "))
	}
	b.WriteString(".")
	if len(exclude) > 0 {
		fmt.Fprintf(&b, " Do not include: %s.", strings.Join(exclude, "; "))
	}
	b.WriteString(` Answer with a JSON array of objects with the keys "name", "city", "category" and "description".`)
	return b.String()
}

func (e *Expander) Expand(ctx context.Context, city string, categories, exclude []string, n int) ([]types.Recommendation, error) {
	ctx, span := otel.Tracer("RecommendationExpander").Start(ctx, "Expand", trace.WithAttributes(
		attribute.String("city", city),
		attribute.Int("requested", n),
	))
	defer span.End()

	if n <= 0 {
		return nil, nil
	}
	text, err := e.gen.GenerateContent(ctx, expansionPrompt(city, categories, exclude, n), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](defaultTemperature),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Generation failed")
		return nil, fmt.Errorf("failed to expand recommendations: %w", err)
	}

	var got []suggestion
	if err := json.Unmarshal([]byte(cleanJSON(text)), &got); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Unparseable generation")
		return nil, fmt.Errorf("failed to parse generated recommendations: %w", err)
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[strings.ToLower(name)] = struct{}{}
	}
	out := make([]types.Recommendation, 0, n)
	for _, s := range got {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			continue
		}
		if _, dup := skip[strings.ToLower(name)]; dup {
			continue
		}
		skip[strings.ToLower(name)] = struct{}{}
		if s.City == "" {
			s.City = city
		}
		out = append(out, types.Recommendation{
			Name: name, City: s.City, Category: s.Category, Description: s.Description,
		})
		if len(out) == n {
			break
		}
	}
	e.logger.DebugContext(ctx, "Recommendations expanded", slog.Int("requested", n), slog.Int("returned", len(out)))
	span.SetStatus(codes.Ok, "Expanded")
	return out, nil
}

// cleanJSON strips a Markdown code fence around a model answer.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
