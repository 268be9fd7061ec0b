package executor

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/kartikbazzad/raftauction/wire"
)

func openTestExecutor(t *testing.T) *Executor {
	t.Helper()
	e, err := Open(filepath.Join(t.TempDir(), "executor.db"))
	if err != nil {
		t.Fatalf("open executor: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func apply(t *testing.T, e *Executor, idx int64, kind string, args interface{}, at int64) Result {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	cmd := Command{Kind: kind, Args: raw, AppliedAt: at}
	encoded, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	out := e.Apply(wire.LogEntry{Index: uint64(idx), Term: 1, Command: encoded})
	res, ok := out.(Result)
	if !ok {
		t.Fatalf("Apply returned non-Result: %T", out)
	}
	return res
}

func TestNewUserRejectsDuplicate(t *testing.T) {
	e := openTestExecutor(t)

	res := apply(t, e, 0, KindNewUser, newUserArgs{Username: "alice", Password: "hunter2"}, 1000)
	if !res.OK {
		t.Fatalf("first NEW_USER should succeed: %+v", res)
	}

	res = apply(t, e, 1, KindNewUser, newUserArgs{Username: "alice", Password: "other"}, 1001)
	if res.OK || res.Err != ErrUserExists.Error() {
		t.Fatalf("expected ErrUserExists, got %+v", res)
	}
}

func TestAuctionLifecycleAndBidding(t *testing.T) {
	e := openTestExecutor(t)

	apply(t, e, 0, KindNewUser, newUserArgs{Username: "alice", Password: "pw"}, 1000)
	apply(t, e, 1, KindNewUser, newUserArgs{Username: "bob", Password: "pw"}, 1001)

	res := apply(t, e, 2, KindNewAuction, newAuctionArgs{
		User: "alice", StartDate: 1000, ObjName: "vase", ObjDesc: "blue", StartPrice: 100,
	}, 1002)
	if !res.OK {
		t.Fatalf("NEW_AUCTION failed: %+v", res)
	}
	auctionID, ok := res.Value.(string)
	if !ok || auctionID == "" {
		t.Fatalf("expected an auction id, got %+v", res.Value)
	}

	// startPrice=100 is the floor; 100/20=5 is the minimum increment, so a
	// bid of 104 (not > 105) must be rejected.
	res = apply(t, e, 3, KindNewBid, newBidArgs{User: "bob", AuctionID: auctionID, Value: 104}, 1003)
	if res.OK || res.Err != ErrBidTooLow.Error() {
		t.Fatalf("expected ErrBidTooLow, got %+v", res)
	}

	res = apply(t, e, 4, KindNewBid, newBidArgs{User: "bob", AuctionID: auctionID, Value: 106}, 1004)
	if !res.OK {
		t.Fatalf("first valid bid should succeed: %+v", res)
	}

	// New floor is 106; 106/20=5, so 110 (not > 111) must fail.
	res = apply(t, e, 5, KindNewBid, newBidArgs{User: "alice", AuctionID: auctionID, Value: 110}, 1005)
	if res.OK || res.Err != ErrBidTooLow.Error() {
		t.Fatalf("expected ErrBidTooLow on a too-small increment, got %+v", res)
	}

	res = apply(t, e, 6, KindNewBid, newBidArgs{User: "alice", AuctionID: auctionID, Value: 112}, 1006)
	if !res.OK {
		t.Fatalf("bid beating the increment should succeed: %+v", res)
	}

	res = apply(t, e, 7, KindCloseAuction, closeAuctionArgs{AuctionID: auctionID, ClosingDate: 2000}, 1007)
	if !res.OK {
		t.Fatalf("CLOSE_AUCTION failed: %+v", res)
	}

	res = apply(t, e, 8, KindNewBid, newBidArgs{User: "bob", AuctionID: auctionID, Value: 1000}, 1008)
	if res.OK || res.Err != ErrAuctionClosed.Error() {
		t.Fatalf("expected ErrAuctionClosed after close, got %+v", res)
	}
}

// TestApplyIsDeterministicAcrossReplicas feeds two independent executor
// instances the exact same committed entries, as every replica in a
// cluster would, and asserts they mint identical auction/bid ids. A
// random v4 UUID minted inside a handler would pass the single-instance
// tests above but diverge here.
func TestApplyIsDeterministicAcrossReplicas(t *testing.T) {
	e1 := openTestExecutor(t)
	e2 := openTestExecutor(t)

	apply(t, e1, 0, KindNewUser, newUserArgs{Username: "alice", Password: "pw"}, 1000)
	apply(t, e2, 0, KindNewUser, newUserArgs{Username: "alice", Password: "pw"}, 1000)

	res1 := apply(t, e1, 1, KindNewAuction, newAuctionArgs{
		User: "alice", StartDate: 1000, ObjName: "vase", ObjDesc: "blue", StartPrice: 100,
	}, 1001)
	res2 := apply(t, e2, 1, KindNewAuction, newAuctionArgs{
		User: "alice", StartDate: 1000, ObjName: "vase", ObjDesc: "blue", StartPrice: 100,
	}, 1001)
	if !res1.OK || !res2.OK {
		t.Fatalf("NEW_AUCTION failed: %+v / %+v", res1, res2)
	}
	auctionID1, _ := res1.Value.(string)
	auctionID2, _ := res2.Value.(string)
	if auctionID1 == "" || auctionID1 != auctionID2 {
		t.Fatalf("auction ids diverged across replicas: %q vs %q", auctionID1, auctionID2)
	}

	bidRes1 := apply(t, e1, 2, KindNewBid, newBidArgs{User: "alice", AuctionID: auctionID1, Value: 200}, 1002)
	bidRes2 := apply(t, e2, 2, KindNewBid, newBidArgs{User: "alice", AuctionID: auctionID2, Value: 200}, 1002)
	if !bidRes1.OK || !bidRes2.OK {
		t.Fatalf("NEW_BID failed: %+v / %+v", bidRes1, bidRes2)
	}
	bidID1, _ := bidRes1.Value.(string)
	bidID2, _ := bidRes2.Value.(string)
	if bidID1 == "" || bidID1 != bidID2 {
		t.Fatalf("bid ids diverged across replicas: %q vs %q", bidID1, bidID2)
	}
}

func TestValidateArgsRejectsMalformed(t *testing.T) {
	if err := ValidateArgs(KindNewUser, []byte(`{"username": "alice"}`)); err == nil {
		t.Fatal("expected validation error for missing password")
	}
	if err := ValidateArgs(KindNewUser, []byte(`{"username": "alice", "password": "pw"}`)); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if err := ValidateArgs("NOT_A_KIND", []byte(`{}`)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
