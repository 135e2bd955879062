package database

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT 0,
	is_superuser BOOLEAN NOT NULL DEFAULT 0,
	date_joined DATETIME NOT NULL
);
-- quote_date and quote_time are kept as free text; the driver would otherwise parse them
CREATE TABLE IF NOT EXISTS quotes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_by INTEGER NOT NULL,
	quote_date TEXT NOT NULL DEFAULT '',
	quote_time TEXT NOT NULL DEFAULT '',
	visible BOOLEAN NOT NULL DEFAULT 0,
	redacted BOOLEAN NOT NULL DEFAULT 0,
	approved BOOLEAN NOT NULL DEFAULT 0,
	approved_at DATETIME,
	is_flagged BOOLEAN NOT NULL DEFAULT 0,
	rank TEXT NOT NULL DEFAULT 'common',
	notes TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	source_image TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	FOREIGN KEY (created_by) REFERENCES users(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS quote_participants (
	quote_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	PRIMARY KEY (quote_id, user_id),
	FOREIGN KEY (quote_id) REFERENCES quotes(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS quote_flags (
	quote_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (quote_id, user_id),
	FOREIGN KEY (quote_id) REFERENCES quotes(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS quote_lines (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	quote_id INTEGER NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	speaker_name TEXT NOT NULL,
	text TEXT NOT NULL,
	user_id INTEGER,
	FOREIGN KEY (quote_id) REFERENCES quotes(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE SET NULL
);
-- At most one response per participant; absence means pending
CREATE TABLE IF NOT EXISTS signatures (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	quote_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	refused BOOLEAN NOT NULL DEFAULT 0,
	signature_image TEXT,
	signed_at DATETIME NOT NULL,
	UNIQUE (quote_id, user_id),
	FOREIGN KEY (quote_id) REFERENCES quotes(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS quote_rank_votes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	quote_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	rarity TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (quote_id, user_id),
	FOREIGN KEY (quote_id) REFERENCES quotes(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS account_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	submitted_at DATETIME NOT NULL,
	approved BOOLEAN NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS mod_actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	actor_id INTEGER,
	action TEXT NOT NULL,
	target_id INTEGER,
	details TEXT
);
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL
);
`
