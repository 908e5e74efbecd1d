// Package logging provides the topic-filtered slog handler shared by the
// procpower commands.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// Topics used by the internal packages.
const (
	TopicSampler   = "sampler"
	TopicTelemetry = "telemetry"
	TopicDriver    = "driver"
	TopicStorage   = "storage"
	TopicStream    = "stream"
	TopicExport    = "export"
)

// TopicHandler wraps an slog.Handler and filters records by a "topic" attribute.
// Records without a topic attribute always pass through (startup messages, errors).
// Records with a topic only pass if that topic is enabled.
type TopicHandler struct {
	inner  slog.Handler
	topics map[string]bool
	topic  string // set when WithAttrs includes a "topic" key
}

// NewTopicHandler wraps inner so that only the named topics are emitted.
// The topic "all" enables everything.
func NewTopicHandler(inner slog.Handler, topics map[string]bool) *TopicHandler {
	if topics == nil {
		topics = map[string]bool{}
	}
	return &TopicHandler{inner: inner, topics: topics}
}

func (h *TopicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TopicHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.topics["all"] {
		return h.inner.Handle(ctx, r)
	}
	topic := h.topic
	if topic == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "topic" {
				topic = a.Value.String()
				return false
			}
			return true
		})
	}
	if topic != "" && !h.topics[topic] {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *TopicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	topic := h.topic
	for _, a := range attrs {
		if a.Key == "topic" {
			topic = a.Value.String()
		}
	}
	return &TopicHandler{inner: h.inner.WithAttrs(attrs), topics: h.topics, topic: topic}
}

func (h *TopicHandler) WithGroup(name string) slog.Handler {
	return &TopicHandler{inner: h.inner.WithGroup(name), topics: h.topics, topic: h.topic}
}

// ParseTopics turns the -verbose and -log flag values into a topic set.
func ParseTopics(verbose bool, list string) map[string]bool {
	topics := make(map[string]bool)
	if verbose {
		topics["all"] = true
	}
	if list != "" {
		for _, t := range strings.Split(list, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics[t] = true
			}
		}
	}
	return topics
}

// New returns a text logger on w that passes untagged records and the
// enabled topics at debug level and above.
func New(w io.Writer, verbose bool, list string) *slog.Logger {
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewTopicHandler(inner, ParseTopics(verbose, list)))
}

// Topic returns a child logger tagged with topic.
func Topic(logger *slog.Logger, topic string) *slog.Logger {
	return logger.With("topic", topic)
}
