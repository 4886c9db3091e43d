package message

import (
	"errors"
	"fmt"

	"github.com/solstream/bus/pb"
)

// ErrSkip marks frames that are valid but carry no update for the channel
// (ping/pong keepalives). Sources drop them silently.
var ErrSkip = errors.New("message: keepalive frame")

// Parse decodes an encoded SubscribeUpdate into a channel variant.
// Block and transaction-status updates are never ingested from upstream;
// blocks are assembled locally.
func Parse(data []byte) (ParsedMessage, error) {
	var upd pb.SubscribeUpdate
	if err := upd.Unmarshal(data); err != nil {
		return nil, err
	}

	switch {
	case upd.Slot != nil:
		return NewSlot(upd.Slot, upd.CreatedAt), nil
	case upd.Account != nil:
		if upd.Account.Account == nil {
			return nil, errors.New("message: account update without account info")
		}
		return NewAccount(upd.Account, upd.CreatedAt), nil
	case upd.Transaction != nil:
		if upd.Transaction.Transaction == nil {
			return nil, errors.New("message: transaction update without transaction info")
		}
		return NewTransaction(upd.Transaction, upd.CreatedAt), nil
	case upd.Entry != nil:
		return NewEntry(upd.Entry, upd.CreatedAt), nil
	case upd.BlockMeta != nil:
		return NewBlockMeta(upd.BlockMeta, upd.CreatedAt), nil
	case upd.Ping != nil, upd.Pong != nil:
		return nil, ErrSkip
	case upd.Block != nil:
		return nil, errors.New("message: block updates are assembled locally, not ingested")
	}
	return nil, fmt.Errorf("message: update without update_oneof")
}
