// Package ledger defines the blockchain collaborator boundary: the read-only
// instrument and right records the client works with, and the Client
// interface behind which all chain reads and writes live.
package ledger

import (
	"context"
	"time"

	"github.com/oreprotocol/oreaccess/pkg/money"
)

// DefaultInstrumentCategory is the instrument category queried when a client
// configuration does not name one.
const DefaultInstrumentCategory = "apimarket.apiVoucher"

// Right is a named, priced capability corresponding to one protected API.
// Rights are immutable once fetched from the chain.
type Right struct {
	// Name identifies the capability, e.g. "cloud.weather.today".
	Name string `json:"right_name"`

	// Price is the fixed-point cost of one call under this right.
	Price money.Amount `json:"price_in_cpu"`
}

// Instrument is an entitlement record on the ledger. The client only ever
// holds read-only copies fetched per call; the chain owns the record.
type Instrument struct {
	ID        uint64    `json:"id"`
	Active    bool      `json:"active"`
	Category  string    `json:"category"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Rights    []Right   `json:"rights"`
}

// Right returns the instrument's right with the given name, or false when
// the instrument does not carry it.
func (i Instrument) Right(name string) (Right, bool) {
	for _, r := range i.Rights {
		if r.Name == name {
			return r, true
		}
	}
	return Right{}, false
}

// Client performs blockchain reads and writes on behalf of the access
// client. Implementations talk to a chain node; tests substitute fakes.
type Client interface {
	// FindInstruments returns the account's instruments in the given
	// category that carry the named right. With activeOnly set, inactive and
	// out-of-window instruments are excluded.
	FindInstruments(ctx context.Context, account string, activeOnly bool, category, rightName string) ([]Instrument, error)

	// ApprovePayment designates amount for transfer from one account to
	// another, authorizing the verifier to charge for a metered call. The
	// memo ties the approval to a single request.
	ApprovePayment(ctx context.Context, from, to string, amount money.Amount, memo, permission string) error

	// HasPublicKey reports whether the given public key is registered to the
	// account on chain.
	HasPublicKey(ctx context.Context, account, publicKey string) (bool, error)
}
