package database

// schema is applied statement by statement; the DSN does not need multiStatements.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS usage_counters (
    bucket VARCHAR(64) NOT NULL,
    email VARCHAR(255) NOT NULL,
    captions INT NOT NULL DEFAULT 0,
    images INT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    PRIMARY KEY (bucket, email),
    KEY idx_usage_email (email)
)`,
	`CREATE TABLE IF NOT EXISTS cost_samples (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    model VARCHAR(128) NOT NULL,
    user_email VARCHAR(255) NOT NULL DEFAULT '',
    prompt_tokens INT NOT NULL,
    completion_tokens INT NOT NULL,
    total_tokens INT NOT NULL,
    cost_usd DECIMAL(18, 8) NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_cost_model (model),
    KEY idx_cost_user (user_email)
)`,
}
