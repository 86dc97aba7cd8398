package providers

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/httpclient"
	"github.com/Ramsey-B/aster/pkg/models"
)

// FromChannel builds the provider adapter for a channel's configured variant.
// The bridge variant comes pre-wrapped with the reconnect decorator; sink
// receives connection blobs the decorator forces (nil to skip persistence).
func FromChannel(channel *models.Channel, client *httpclient.Client, logger ectologger.Logger, sink ConnectionSink) (Provider, error) {
	cfg := channel.ProviderConfig.Data

	switch channel.Provider {
	case models.ProviderBridge:
		bridge := NewBridge(cfg, channel.PhoneNumber, client, logger)
		return WithReconnect(bridge, logger, sink), nil
	case models.ProviderGateway:
		return NewGateway(cfg, client, logger), nil
	case models.ProviderCloud:
		return NewCloud(cfg, client, logger), nil
	case models.ProviderDefault:
		return NewLegacy(cfg, client, logger), nil
	default:
		return nil, httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "unknown provider %q", channel.Provider)
	}
}
