package storage

const schema = `
-- The 'sources' table tracks where decks are synced from, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    last_scanned DATETIME
);

-- A deck is one imported CSV file, one synced file, or one AI generation request.
CREATE TABLE IF NOT EXISTS decks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    source_path TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_decks_source_path ON decks(source_path) WHERE source_path != '';

CREATE TABLE IF NOT EXISTS cards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    deck_id INTEGER NOT NULL,
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '',
    note_type TEXT NOT NULL DEFAULT 'Basic',
    hash TEXT NOT NULL,

    FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE,
    UNIQUE(deck_id, hash)
);

-- Exactly one review state per card, written by the scheduler only.
CREATE TABLE IF NOT EXISTS review_states (
    card_id INTEGER PRIMARY KEY,
    repetitions INTEGER NOT NULL DEFAULT 0,
    ease_factor REAL NOT NULL DEFAULT 2.5,
    interval_days INTEGER NOT NULL DEFAULT 0,
    due_at DATETIME NOT NULL,
    last_reviewed_at DATETIME,

    FOREIGN KEY(card_id) REFERENCES cards(id) ON DELETE CASCADE
);

-- Append-only review log used for statistics.
CREATE TABLE IF NOT EXISTS review_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    card_id INTEGER NOT NULL,
    deck_id INTEGER NOT NULL,
    run_id TEXT NOT NULL DEFAULT '',
    grade TEXT NOT NULL,
    reviewed_at DATETIME NOT NULL,
    interval_days INTEGER NOT NULL,
    ease_factor REAL NOT NULL,
    damage_dealt INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(card_id) REFERENCES cards(id) ON DELETE CASCADE,
    FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_review_events_deck ON review_events(deck_id, reviewed_at);

-- The run in progress for a deck, stored as a JSON game state.
CREATE TABLE IF NOT EXISTS active_games (
    deck_id INTEGER PRIMARY KEY,
    state TEXT NOT NULL,
    updated_at DATETIME NOT NULL,

    FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS game_saves (
    deck_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    state TEXT NOT NULL,
    score INTEGER NOT NULL DEFAULT 0,
    current_encounter INTEGER NOT NULL DEFAULT 0,
    saved_at DATETIME NOT NULL,

    PRIMARY KEY(deck_id, name),
    FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
);

-- Finished runs, one row per victory, defeat or abandonment.
CREATE TABLE IF NOT EXISTS run_records (
    run_id TEXT PRIMARY KEY,
    deck_id INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    cards_reviewed INTEGER NOT NULL DEFAULT 0,
    cards_correct INTEGER NOT NULL DEFAULT 0,
    score INTEGER NOT NULL DEFAULT 0,
    encounters_cleared INTEGER NOT NULL DEFAULT 0,
    started_at DATETIME NOT NULL,
    ended_at DATETIME NOT NULL,

    FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
);
`
