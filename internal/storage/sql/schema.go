package sql

// schema 返回各方言的建表语句，全部可重复执行
func schema(dialect string) []string {
	switch dialect {
	case DialectPostgres:
		return []string{
			`CREATE TABLE IF NOT EXISTS access_keys (
				id VARCHAR(36) PRIMARY KEY,
				code VARCHAR(128) NOT NULL UNIQUE,
				description VARCHAR(500) NOT NULL,
				max_uses INTEGER NOT NULL DEFAULT 1,
				current_uses INTEGER NOT NULL DEFAULT 0,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL,
				CHECK (current_uses >= 0 AND current_uses <= max_uses)
			)`,
			`CREATE TABLE IF NOT EXISTS barcode_records (
				id VARCHAR(36) PRIMARY KEY,
				gs1_value TEXT NOT NULL,
				gs1_hash CHAR(64) NOT NULL UNIQUE,
				linear_value TEXT NOT NULL,
				is_used BOOLEAN NOT NULL DEFAULT FALSE,
				used_at TIMESTAMPTZ NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_barcode_pool ON barcode_records (is_used, created_at, id)`,
			`CREATE TABLE IF NOT EXISTS usage_logs (
				id VARCHAR(36) PRIMARY KEY,
				key_id VARCHAR(36) NOT NULL REFERENCES access_keys(id) ON DELETE CASCADE,
				used_at TIMESTAMPTZ NOT NULL,
				ip_address VARCHAR(64) NULL,
				label_data TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_logs_key_id ON usage_logs (key_id)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_logs_used_at ON usage_logs (used_at)`,
			`CREATE TABLE IF NOT EXISTS revoked_tokens (
				jti VARCHAR(64) PRIMARY KEY,
				expires_at TIMESTAMPTZ NOT NULL
			)`,
		}
	case DialectMySQL:
		return []string{
			`CREATE TABLE IF NOT EXISTS access_keys (
				id VARCHAR(36) PRIMARY KEY,
				code VARCHAR(128) NOT NULL UNIQUE,
				description VARCHAR(500) NOT NULL,
				max_uses INT NOT NULL DEFAULT 1,
				current_uses INT NOT NULL DEFAULT 0,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at DATETIME(6) NOT NULL,
				CHECK (current_uses >= 0 AND current_uses <= max_uses)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS barcode_records (
				id VARCHAR(36) PRIMARY KEY,
				gs1_value TEXT NOT NULL,
				gs1_hash CHAR(64) NOT NULL UNIQUE,
				linear_value TEXT NOT NULL,
				is_used BOOLEAN NOT NULL DEFAULT FALSE,
				used_at DATETIME(6) NULL,
				created_at DATETIME(6) NOT NULL,
				INDEX idx_barcode_pool (is_used, created_at, id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS usage_logs (
				id VARCHAR(36) PRIMARY KEY,
				key_id VARCHAR(36) NOT NULL,
				used_at DATETIME(6) NOT NULL,
				ip_address VARCHAR(64) NULL,
				label_data TEXT NOT NULL,
				INDEX idx_usage_logs_key_id (key_id),
				INDEX idx_usage_logs_used_at (used_at),
				CONSTRAINT fk_usage_logs_key FOREIGN KEY (key_id) REFERENCES access_keys(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS revoked_tokens (
				jti VARCHAR(64) PRIMARY KEY,
				expires_at DATETIME(6) NOT NULL
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return []string{
			`CREATE TABLE IF NOT EXISTS access_keys (
				id TEXT PRIMARY KEY,
				code TEXT NOT NULL UNIQUE,
				description TEXT NOT NULL,
				max_uses INTEGER NOT NULL DEFAULT 1,
				current_uses INTEGER NOT NULL DEFAULT 0,
				is_active BOOLEAN NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				CHECK (current_uses >= 0 AND current_uses <= max_uses)
			)`,
			`CREATE TABLE IF NOT EXISTS barcode_records (
				id TEXT PRIMARY KEY,
				gs1_value TEXT NOT NULL,
				gs1_hash TEXT NOT NULL UNIQUE,
				linear_value TEXT NOT NULL,
				is_used BOOLEAN NOT NULL DEFAULT 0,
				used_at DATETIME NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_barcode_pool ON barcode_records (is_used, created_at, id)`,
			`CREATE TABLE IF NOT EXISTS usage_logs (
				id TEXT PRIMARY KEY,
				key_id TEXT NOT NULL REFERENCES access_keys(id) ON DELETE CASCADE,
				used_at DATETIME NOT NULL,
				ip_address TEXT NULL,
				label_data TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_logs_key_id ON usage_logs (key_id)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_logs_used_at ON usage_logs (used_at)`,
			`CREATE TABLE IF NOT EXISTS revoked_tokens (
				jti TEXT PRIMARY KEY,
				expires_at DATETIME NOT NULL
			)`,
		}
	}
}
