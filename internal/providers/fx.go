package providers

import (
	"github.com/smallbiznis/creditledger/internal/processor"
	"github.com/smallbiznis/creditledger/internal/providers/pdf"
	"go.uber.org/fx"
)

// Module bundles the adapters that talk to the outside world: the payment
// processor and the invoice PDF renderer.
var Module = fx.Module("providers",
	processor.Module,
	pdf.Module,
)
