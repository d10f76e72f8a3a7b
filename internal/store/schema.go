package store

// schemaStatements is the embedded schema, executed in order by Migrate. Every
// statement is idempotent so Migrate can run on every start.
//
// Invariants carried by the schema rather than code:
//   - (tenant, parent, name) is unique among attached inodes; detached
//     historical inodes have parent NULL and do not collide.
//   - inode ids come from the tenants.next_inode_id counter, bumped with an
//     atomic update so concurrent creators of different paths never collide.
//   - text_blocks.ref_count is maintained by triggers on text_line_map.
//   - layers.file_count / total_bytes are maintained by triggers on
//     layer_entries (file_count counts non-delete entries).
//   - at most one working layer per mount (partial unique index).
//   - layers.parent_id is ON DELETE RESTRICT so a snapshot cannot be orphaned.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		root_inode_id INTEGER,
		next_inode_id INTEGER NOT NULL DEFAULT 1,
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS inodes (
		tenant_id TEXT    NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		id        INTEGER NOT NULL,
		parent_id INTEGER,
		name      TEXT    NOT NULL,
		kind      TEXT    NOT NULL CHECK (kind IN ('file','directory','symlink')),
		mode      INTEGER NOT NULL,
		uid       INTEGER NOT NULL DEFAULT 0,
		gid       INTEGER NOT NULL DEFAULT 0,
		size      INTEGER NOT NULL DEFAULT 0,
		atime     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		mtime     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		ctime     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (tenant_id, id),
		FOREIGN KEY (tenant_id, parent_id) REFERENCES inodes(tenant_id, id) ON DELETE CASCADE,
		UNIQUE (tenant_id, parent_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS data_blocks (
		tenant_id   TEXT    NOT NULL,
		inode_id    INTEGER NOT NULL,
		block_index INTEGER NOT NULL CHECK (block_index >= 0),
		payload     BLOB    NOT NULL,
		size        INTEGER NOT NULL CHECK (size > 0 AND size <= 4096),
		hash        TEXT    NOT NULL,
		PRIMARY KEY (tenant_id, inode_id, block_index),
		FOREIGN KEY (tenant_id, inode_id) REFERENCES inodes(tenant_id, id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_data_blocks_hash ON data_blocks(hash)`,

	`CREATE TABLE IF NOT EXISTS text_blocks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		hash        TEXT    NOT NULL UNIQUE,
		payload     TEXT    NOT NULL,
		line_count  INTEGER NOT NULL CHECK (line_count > 0),
		byte_size   INTEGER NOT NULL,
		encoding    TEXT    NOT NULL CHECK (encoding IN ('utf-8','ascii','latin-1')),
		ref_count   INTEGER NOT NULL DEFAULT 0,
		last_access TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS layers (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		parent_id   TEXT REFERENCES layers(id) ON DELETE RESTRICT,
		mount_id    TEXT REFERENCES mount_entries(id) ON DELETE CASCADE,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_working  INTEGER NOT NULL DEFAULT 0,
		created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		file_count  INTEGER NOT NULL DEFAULT 0,
		total_bytes INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'active'
			CHECK (status IN ('active','creating','deleting','archived')),
		read_only   INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_layers_working
		ON layers(mount_id) WHERE is_working = 1 AND mount_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_layers_parent ON layers(parent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_layers_mount ON layers(mount_id)`,

	`CREATE TABLE IF NOT EXISTS text_file_meta (
		tenant_id        TEXT    NOT NULL,
		inode_id         INTEGER NOT NULL,
		layer_id         TEXT    NOT NULL REFERENCES layers(id) ON DELETE CASCADE,
		total_lines      INTEGER NOT NULL CHECK (total_lines >= 0),
		encoding         TEXT    NOT NULL CHECK (encoding IN ('utf-8','ascii','latin-1')),
		line_ending      TEXT    NOT NULL CHECK (line_ending IN ('lf','crlf','cr')),
		trailing_newline INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, inode_id, layer_id),
		FOREIGN KEY (tenant_id, inode_id) REFERENCES inodes(tenant_id, id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS text_line_map (
		tenant_id    TEXT    NOT NULL,
		inode_id     INTEGER NOT NULL,
		layer_id     TEXT    NOT NULL REFERENCES layers(id) ON DELETE CASCADE,
		line_no      INTEGER NOT NULL CHECK (line_no >= 0),
		block_id     INTEGER NOT NULL REFERENCES text_blocks(id),
		block_offset INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, inode_id, layer_id, line_no),
		FOREIGN KEY (tenant_id, inode_id) REFERENCES inodes(tenant_id, id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_text_line_map_block ON text_line_map(block_id)`,

	// Reference counting for text blocks rides on the line map.
	`CREATE TRIGGER IF NOT EXISTS trg_text_line_map_ins
		AFTER INSERT ON text_line_map
	BEGIN
		UPDATE text_blocks
		SET ref_count = ref_count + 1, last_access = CURRENT_TIMESTAMP
		WHERE id = NEW.block_id;
	END`,
	`CREATE TRIGGER IF NOT EXISTS trg_text_line_map_del
		AFTER DELETE ON text_line_map
	BEGIN
		UPDATE text_blocks
		SET ref_count = ref_count - 1
		WHERE id = OLD.block_id;
	END`,
	`CREATE TRIGGER IF NOT EXISTS trg_text_line_map_upd
		AFTER UPDATE OF block_id ON text_line_map
		WHEN OLD.block_id != NEW.block_id
	BEGIN
		UPDATE text_blocks SET ref_count = ref_count - 1 WHERE id = OLD.block_id;
		UPDATE text_blocks
		SET ref_count = ref_count + 1, last_access = CURRENT_TIMESTAMP
		WHERE id = NEW.block_id;
	END`,

	`CREATE TABLE IF NOT EXISTS layer_entries (
		layer_id       TEXT    NOT NULL REFERENCES layers(id) ON DELETE CASCADE,
		path           TEXT    NOT NULL,
		inode_id       INTEGER NOT NULL,
		change_kind    TEXT    NOT NULL CHECK (change_kind IN ('add','modify','delete')),
		size_delta     INTEGER NOT NULL DEFAULT 0,
		lines_added    INTEGER,
		lines_deleted  INTEGER,
		lines_modified INTEGER,
		PRIMARY KEY (layer_id, path)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_layer_entries_path ON layer_entries(path)`,

	// Layer statistics ride on the changelog.
	`CREATE TRIGGER IF NOT EXISTS trg_layer_entries_ins
		AFTER INSERT ON layer_entries
	BEGIN
		UPDATE layers
		SET file_count  = file_count + (NEW.change_kind != 'delete'),
		    total_bytes = total_bytes + NEW.size_delta
		WHERE id = NEW.layer_id;
	END`,
	`CREATE TRIGGER IF NOT EXISTS trg_layer_entries_del
		AFTER DELETE ON layer_entries
	BEGIN
		UPDATE layers
		SET file_count  = file_count - (OLD.change_kind != 'delete'),
		    total_bytes = total_bytes - OLD.size_delta
		WHERE id = OLD.layer_id;
	END`,
	`CREATE TRIGGER IF NOT EXISTS trg_layer_entries_upd
		AFTER UPDATE ON layer_entries
	BEGIN
		UPDATE layers
		SET file_count  = file_count - (OLD.change_kind != 'delete') + (NEW.change_kind != 'delete'),
		    total_bytes = total_bytes - OLD.size_delta + NEW.size_delta
		WHERE id = NEW.layer_id;
	END`,

	`CREATE TABLE IF NOT EXISTS mount_entries (
		id               TEXT PRIMARY KEY,
		tenant_id        TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		name             TEXT NOT NULL,
		virtual_path     TEXT NOT NULL,
		is_file          INTEGER NOT NULL DEFAULT 0,
		source_kind      TEXT NOT NULL
			CHECK (source_kind IN ('host','layer','published','working_layer')),
		host_path        TEXT,
		source_mount_id  TEXT,
		source_layer_id  TEXT,
		source_subpath   TEXT,
		publication_name TEXT,
		access_mode      TEXT NOT NULL CHECK (access_mode IN ('ro','rw','cow')),
		enabled          INTEGER NOT NULL DEFAULT 1,
		working_layer_id TEXT,
		metadata         TEXT NOT NULL DEFAULT '{}',
		UNIQUE (tenant_id, name),
		UNIQUE (tenant_id, virtual_path)
	)`,

	`CREATE TABLE IF NOT EXISTS published_mounts (
		id             TEXT PRIMARY KEY,
		tenant_id      TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		mount_entry_id TEXT NOT NULL UNIQUE REFERENCES mount_entries(id) ON DELETE CASCADE,
		name           TEXT NOT NULL UNIQUE,
		description    TEXT NOT NULL DEFAULT '',
		target_kind    TEXT NOT NULL CHECK (target_kind IN ('layer','working_layer')),
		layer_id       TEXT REFERENCES layers(id),
		scope          TEXT NOT NULL CHECK (scope IN ('public','allow_list')),
		created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK ((target_kind = 'layer') = (layer_id IS NOT NULL))
	)`,

	`CREATE TABLE IF NOT EXISTS publication_allowed_tenants (
		publication_id TEXT NOT NULL REFERENCES published_mounts(id) ON DELETE CASCADE,
		tenant_id      TEXT NOT NULL,
		PRIMARY KEY (publication_id, tenant_id)
	)`,

	`CREATE TABLE IF NOT EXISTS audit_records (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id  TEXT NOT NULL,
		operation  TEXT NOT NULL,
		path       TEXT NOT NULL DEFAULT '',
		outcome    TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_records(created_at)`,
}
