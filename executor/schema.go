package executor

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS auctions (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	obj_name TEXT NOT NULL,
	obj_desc TEXT NOT NULL,
	start_price INTEGER NOT NULL,
	start_date INTEGER NOT NULL,
	closing_date INTEGER,
	closed INTEGER NOT NULL DEFAULT 0,
	highest_bid INTEGER,
	highest_bidder TEXT
);

CREATE TABLE IF NOT EXISTS bids (
	id TEXT PRIMARY KEY,
	auction_id TEXT NOT NULL,
	bidder TEXT NOT NULL,
	value INTEGER NOT NULL,
	placed_at INTEGER NOT NULL
);
`
