package natsx

import (
	"log/slog"

	"github.com/casualjim/streamer/pkg/slogx"
	"github.com/nats-io/nats.go"
)

// ClientName is the connection name reported to the NATS server.
const ClientName = "streamer"

// NewClient connects to the NATS server at url. Without options the
// connection is named ClientName, uses compression and reconnects forever.
// Connection state changes are logged to logger.
func NewClient(url string, logger *slog.Logger, opts ...nats.Option) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts) == 0 {
		opts = append(opts,
			nats.Name(ClientName),
			nats.Compression(true),
			nats.MaxReconnects(-1),
		)
	}
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slogx.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	return nats.Connect(url, opts...)
}
