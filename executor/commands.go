package executor

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/common/types"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// idNamespace seeds the deterministic auction/bid ids below. Apply runs
// independently on every replica's apply goroutine, so a random v4 UUID
// minted inside a handler would diverge across nodes for the same
// committed entry; uuid.NewSHA1 over the namespace plus a per-kind,
// per-index name instead gives every replica the identical id.
var idNamespace = uuid.NameSpaceOID

func deterministicID(kind string, index uint64) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s:%d", kind, index))).String()
}

type newUserArgs struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// applyNewUser hashes the password with bcrypt.GenerateFromPassword (cost
// bcrypt.DefaultCost) and inserts the row, failing with ErrUserExists if
// the username is taken.
func (e *Executor) applyNewUser(cmd Command) Result {
	var args newUserArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return fail(err)
	}

	var exists int
	if err := e.db.QueryRow(`SELECT 1 FROM users WHERE username = ?`, args.Username).Scan(&exists); err == nil {
		return fail(ErrUserExists)
	} else if err != sql.ErrNoRows {
		return fail(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(args.Password), bcrypt.DefaultCost)
	if err != nil {
		return fail(err)
	}

	if _, err := e.db.Exec(`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		args.Username, string(hash), cmd.AppliedAt); err != nil {
		return fail(err)
	}
	return ok(args.Username)
}

type newAuctionArgs struct {
	User       string `json:"user"`
	StartDate  int64  `json:"startDate"`
	ObjName    string `json:"objName"`
	ObjDesc    string `json:"objDesc"`
	StartPrice int64  `json:"startPrice"`
}

// applyNewAuction validates the owning user exists, derives the auction's
// id deterministically from its log index, and inserts the row.
func (e *Executor) applyNewAuction(cmd Command, index uint64) Result {
	var args newAuctionArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return fail(err)
	}

	var exists int
	if err := e.db.QueryRow(`SELECT 1 FROM users WHERE username = ?`, args.User).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return fail(ErrUserNotFound)
		}
		return fail(err)
	}

	id := deterministicID(KindNewAuction, index)
	if _, err := e.db.Exec(`INSERT INTO auctions
		(id, owner, obj_name, obj_desc, start_price, start_date, closed, highest_bid, highest_bidder)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL, NULL)`,
		id, args.User, args.ObjName, args.ObjDesc, args.StartPrice, args.StartDate); err != nil {
		return fail(err)
	}
	return ok(id)
}

type newBidArgs struct {
	User      string `json:"user"`
	AuctionID string `json:"auctionId"`
	Value     int64  `json:"value"`
}

type auctionRow struct {
	closed        bool
	highestBid    sql.NullInt64
	startPrice    int64
}

// applyNewBid validates the auction is open and the bid beats the current
// highest bid by the minimum increment, evaluated via the bid-rule CEL
// program compiled in Open. The bid's id is derived deterministically from
// its log index, same as applyNewAuction.
func (e *Executor) applyNewBid(cmd Command, index uint64) Result {
	var args newBidArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return fail(err)
	}

	var row auctionRow
	err := e.db.QueryRow(`SELECT closed, highest_bid, start_price FROM auctions WHERE id = ?`, args.AuctionID).
		Scan(&row.closed, &row.highestBid, &row.startPrice)
	if err == sql.ErrNoRows {
		return fail(ErrAuctionNotFound)
	}
	if err != nil {
		return fail(err)
	}
	if row.closed {
		return fail(ErrAuctionClosed)
	}

	highestBid := row.startPrice // an unbid auction's floor is its starting price
	if row.highestBid.Valid {
		highestBid = row.highestBid.Int64
	}

	out, _, err := e.bidPrg.Eval(map[string]interface{}{
		"value":      types.Int(args.Value),
		"highestBid": types.Int(highestBid),
	})
	if err != nil {
		return fail(fmt.Errorf("executor: evaluate bid rule: %w", err))
	}
	passed, isBool := out.Value().(bool)
	if !isBool || !passed {
		return fail(ErrBidTooLow)
	}

	id := deterministicID(KindNewBid, index)
	if _, err := e.db.Exec(`INSERT INTO bids (id, auction_id, bidder, value, placed_at) VALUES (?, ?, ?, ?, ?)`,
		id, args.AuctionID, args.User, args.Value, cmd.AppliedAt); err != nil {
		return fail(err)
	}
	if _, err := e.db.Exec(`UPDATE auctions SET highest_bid = ?, highest_bidder = ? WHERE id = ?`,
		args.Value, args.User, args.AuctionID); err != nil {
		return fail(err)
	}
	return ok(id)
}

type closeAuctionArgs struct {
	AuctionID   string `json:"auctionId"`
	ClosingDate int64  `json:"closingDate"`
}

// applyCloseAuction marks the auction closed, freezing highest_bid and
// highest_bidder.
func (e *Executor) applyCloseAuction(cmd Command) Result {
	var args closeAuctionArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return fail(err)
	}

	res, err := e.db.Exec(`UPDATE auctions SET closed = 1, closing_date = ? WHERE id = ? AND closed = 0`,
		args.ClosingDate, args.AuctionID)
	if err != nil {
		return fail(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fail(err)
	}
	if n == 0 {
		return fail(ErrAuctionNotFound)
	}
	return ok(args.AuctionID)
}
