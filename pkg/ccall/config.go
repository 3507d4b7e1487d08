package ccall

import (
	"github.com/avsconf/ccall/pkg/icall"
	"github.com/pion/logging"
)

// SFTConfig is the federation/TURN configuration a host fetches out of
// band and hands to the controller via SetSFTConfig.
type SFTConfig struct {
	// AllowedSFTs is the set of SFT URLs this client is permitted to
	// connect to. CONF_CONN targets are filtered against this set.
	AllowedSFTs []string
	TurnServers []icall.ICEServer
}

// Config configures a Controller. ConvID and the self identity are
// fixed for the controller's lifetime; everything else may be supplied
// later via the imperative API.
type Config struct {
	ConvIDHash string
	SelfUserID string
	SelfClient string
	IsMLS      bool

	// SessionFactory builds the icall.Session the controller drives,
	// wiring the controller itself in as the session's Delegate. Required.
	SessionFactory func(delegate icall.Delegate) icall.Session

	// MediaCtx is the ambient media-system context shared across calls.
	MediaCtx *icall.MediaSystemContext

	LoggerFactory logging.LoggerFactory

	// DisableForceStartOnSoloZeroTS turns off the default behavior of
	// claiming an ordering timestamp and sending CONF_START when a
	// CONF_PART with at most one member reports should_start while the
	// controller's own ordering timestamp is zero; with it set, the
	// timestamp stays zero and no CONF_START is sent.
	DisableForceStartOnSoloZeroTS bool

	// DegradeOnLoss enables downgrading HIGH video stream requests to
	// LOW when a quality sample reports more than 20% download loss or
	// when three keepalive pings in a row go unanswered. Disabled by
	// default.
	DegradeOnLoss bool
}

func (c Config) withDefaults() Config {
	if c.MediaCtx == nil {
		c.MediaCtx = icall.NewMediaSystemContext()
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return c
}
