package streamer

import (
	"log/slog"

	"github.com/casualjim/streamer/internal/registry"
	"github.com/casualjim/streamer/pkg/slogx"
	"github.com/fogfish/opts"
)

// StreamConfig holds the construction parameters of a stream.
type StreamConfig struct {
	retransmission bool
}

func defaultStreamConfig() StreamConfig {
	return StreamConfig{retransmission: true}
}

// Retransmission controls whether writes are pushed to remote subscribers.
// Defaults to true. In-process listeners are notified either way.
var Retransmission = opts.ForName[StreamConfig, bool]("retransmission")

// Central owns the streams of a process and wires each new stream into the
// configured transports. It replaces a global stream table: whatever needs to
// create or look up streams is handed the Central.
type Central struct {
	logger       *slog.Logger
	methods      []MethodRegistrar
	publications []PublicationRegistrar
	streams      registry.Registry[*Stream]
}

// WithLogger sets the logger used by the Central and its streams.
var WithLogger = opts.ForName[Central, *slog.Logger]("logger")

// WithMethods adds transports that receive the stream-<name> write method of
// every stream created afterwards.
func WithMethods(registrar MethodRegistrar, extra ...MethodRegistrar) opts.Option[Central] {
	return opts.Type[Central](func(c *Central) error {
		c.methods = append(c.methods, registrar)
		c.methods = append(c.methods, extra...)
		return nil
	})
}

// WithPublications adds transports that receive the stream-<name>
// publication of every stream created afterwards.
func WithPublications(registrar PublicationRegistrar, extra ...PublicationRegistrar) opts.Option[Central] {
	return opts.Type[Central](func(c *Central) error {
		c.publications = append(c.publications, registrar)
		c.publications = append(c.publications, extra...)
		return nil
	})
}

// NewCentral creates an empty Central.
func NewCentral(options ...opts.Option[Central]) (*Central, error) {
	c := &Central{
		streams: registry.New[*Stream](),
	}
	if err := opts.Apply(c, options); err != nil {
		return nil, err
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Stream returns the stream called name, creating it when it does not exist.
//
// When the stream already exists the options are discarded and the existing
// instance is returned. A new stream registers its method and publication
// with every transport; transport errors are logged and do not fail the call.
func (c *Central) Stream(name string, options ...opts.Option[StreamConfig]) *Stream {
	stream, loaded := c.streams.GetOrAdd(name, func() *Stream {
		cfg := defaultStreamConfig()
		if err := opts.Apply(&cfg, options); err != nil {
			c.logger.Error("invalid stream options, using defaults", slogx.Stream(name), slogx.Error(err))
			cfg = defaultStreamConfig()
		}
		return newStream(name, cfg, c.logger)
	})
	if loaded {
		c.logger.Warn("stream instance already exists", slogx.Stream(name))
		return stream
	}

	c.register(stream)
	return stream
}

func (c *Central) register(stream *Stream) {
	name := stream.SubscriptionName()
	for _, m := range c.methods {
		if m == nil {
			continue
		}
		if err := m.Method(name, stream.ServeMethod); err != nil {
			c.logger.Error("failed to register stream method", slogx.Stream(stream.Name()), slogx.Error(err))
		}
	}
	for _, p := range c.publications {
		if p == nil {
			continue
		}
		if err := p.Publish(name, stream.ServePublication); err != nil {
			c.logger.Error("failed to register stream publication", slogx.Stream(stream.Name()), slogx.Error(err))
		}
	}
}

// Get returns the stream called name if it exists.
func (c *Central) Get(name string) (*Stream, bool) {
	return c.streams.Get(name)
}

// Names returns the names of all streams in lexical order.
func (c *Central) Names() []string {
	return c.streams.Names()
}
