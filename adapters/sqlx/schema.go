package sqlx

// Schema returns the DDL for the given dialect.
func Schema(d Driver) []string {
	ts, text, boolean := "TIMESTAMPTZ", "TEXT", "BOOLEAN"
	ledgerIndex := ""
	if d == DriverMySQL {
		ts, text, boolean = "DATETIME(6)", "JSON", "TINYINT(1)"
		ledgerIndex = `,
			INDEX xp_events_created_at_idx (created_at, user_id)`
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(191) PRIMARY KEY,
			total_xp BIGINT NOT NULL DEFAULT 0,
			level BIGINT NOT NULL DEFAULT 1,
			lessons_completed BIGINT NOT NULL DEFAULT 0,
			courses_completed BIGINT NOT NULL DEFAULT 0,
			badges_earned BIGINT NOT NULL DEFAULT 0,
			current_streak BIGINT NOT NULL DEFAULT 0,
			longest_streak BIGINT NOT NULL DEFAULT 0,
			last_active_at ` + ts + ` NULL,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS courses (
			id VARCHAR(191) PRIMARY KEY,
			title VARCHAR(255) NOT NULL DEFAULT '',
			total_lessons INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS lessons (
			id VARCHAR(191) PRIMARY KEY,
			course_id VARCHAR(191) NOT NULL REFERENCES courses(id),
			title VARCHAR(255) NOT NULL DEFAULT '',
			lesson_type VARCHAR(32) NOT NULL,
			position INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS lesson_completions (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(191) NOT NULL,
			lesson_id VARCHAR(191) NOT NULL,
			course_id VARCHAR(191) NOT NULL,
			score INT NULL,
			time_spent_seconds INT NOT NULL DEFAULT 0,
			xp_awarded BIGINT NOT NULL DEFAULT 0,
			completed_at ` + ts + ` NOT NULL,
			UNIQUE (user_id, lesson_id)
		)`,
		`CREATE TABLE IF NOT EXISTS course_progress (
			user_id VARCHAR(191) NOT NULL,
			course_id VARCHAR(191) NOT NULL,
			lessons_completed INT NOT NULL DEFAULT 0,
			percentage INT NOT NULL DEFAULT 0,
			current_lesson_id VARCHAR(191) NOT NULL DEFAULT '',
			enrolled_at ` + ts + ` NOT NULL,
			completed_at ` + ts + ` NULL,
			updated_at ` + ts + ` NOT NULL,
			PRIMARY KEY (user_id, course_id)
		)`,
		`CREATE TABLE IF NOT EXISTS achievements (
			id VARCHAR(191) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description VARCHAR(1024) NOT NULL DEFAULT '',
			criteria ` + text + ` NOT NULL,
			xp_reward BIGINT NOT NULL DEFAULT 0,
			rarity VARCHAR(32) NOT NULL DEFAULT 'common',
			active ` + boolean + ` NOT NULL DEFAULT TRUE,
			earned_count BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS user_achievements (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(191) NOT NULL,
			achievement_id VARCHAR(191) NOT NULL,
			xp_awarded BIGINT NOT NULL DEFAULT 0,
			earned_at ` + ts + ` NOT NULL,
			UNIQUE (user_id, achievement_id)
		)`,
		`CREATE TABLE IF NOT EXISTS xp_events (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(191) NOT NULL,
			amount BIGINT NOT NULL,
			source VARCHAR(32) NOT NULL,
			source_id VARCHAR(191) NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL` + ledgerIndex + `
		)`,
	}
	if d == DriverPostgres {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS xp_events_created_at_idx ON xp_events (created_at, user_id)`)
	}
	return stmts
}
