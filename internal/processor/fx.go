package processor

import (
	"github.com/smallbiznis/creditledger/internal/config"
	processordomain "github.com/smallbiznis/creditledger/internal/processor/domain"
	"github.com/smallbiznis/creditledger/internal/processor/noop"
	"github.com/smallbiznis/creditledger/internal/processor/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("processor",
	fx.Provide(Provide),
)

type Result struct {
	fx.Out

	Processor processordomain.Processor
	Verifier  processordomain.WebhookVerifier
}

// Provide selects the Stripe adapter when a secret key is configured and
// falls back to the noop processor otherwise.
func Provide(cfg config.Config, log *zap.Logger) Result {
	if cfg.Stripe.Enabled() {
		adapter := stripe.New(cfg.Stripe, log)
		log.Info("payment processor enabled", zap.String("provider", adapter.Name()))
		return Result{Processor: adapter, Verifier: adapter}
	}
	log.Info("payment processor disabled, invoices will not be mirrored")
	p := noop.New()
	return Result{Processor: p, Verifier: p}
}
