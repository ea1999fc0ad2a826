package trigger

import (
	"github.com/google/wire"
	"github.com/sirupsen/logrus"

	"github.com/sqltrigger/engine/internal/enginepool"
)

// Set is used by Wire.
var Set = wire.NewSet(
	enginepool.Open,
	ProvideLogger,
	ProvideConfig,
	wire.Struct(new(Deps), "*"),
)

// Deps bundles the ambient dependencies a host needs before it can call
// Start: a connection pool, a logger, and a tunable Config. Hosts that
// don't want wire's defaults can construct a Deps by hand instead.
type Deps struct {
	Pool   *enginepool.Pool
	Logger *logrus.Logger
	Config Config
}

// ProvideLogger is called by Wire to supply the default logger used
// when a host doesn't construct its own.
func ProvideLogger() *logrus.Logger {
	return logrus.New()
}

// ProvideConfig is called by Wire to supply the tunable defaults.
func ProvideConfig() Config {
	return DefaultConfig()
}
