package config

// Config the GuardianBridge process configuration
type Config struct {
	Mode          string    `json:"mode,omitempty" env:"GB_ENV" envDefault:"production"`                              // production/development
	Root          string    `json:"root,omitempty" env:"GB_ROOT" envDefault:"."`                                      // working root, relative paths resolve against it
	Host          string    `json:"host,omitempty" env:"GB_HOST" envDefault:"0.0.0.0"`                                // listen address
	Port          int       `json:"port,omitempty" env:"GB_PORT" envDefault:"8000"`                                   // listen port
	Log           string    `json:"log,omitempty" env:"GB_LOG"`                                                       // log file path, empty logs to stderr
	LogMode       string    `json:"log_mode,omitempty" env:"GB_LOG_MODE" envDefault:"TEXT"`                           // JSON|TEXT
	LogMaxSize    int       `json:"log_max_size,omitempty" env:"GB_LOG_MAX_SIZE" envDefault:"100"`                    // megabytes
	LogMaxBackups int       `json:"log_max_backups,omitempty" env:"GB_LOG_MAX_BACKUPS" envDefault:"5"`                //
	LogMaxAge     int       `json:"log_max_age,omitempty" env:"GB_LOG_MAX_AGE" envDefault:"30"`                       // days
	LogLocalTime  bool      `json:"log_local_time,omitempty" env:"GB_LOG_LOCAL_TIME" envDefault:"true"`               //
	ProfilesRoot  string    `json:"profiles_root,omitempty" env:"GB_PROFILES_ROOT" envDefault:"configs/mod_profiles"` // moderation profile directories
	KeywordsFile  string    `json:"keywords_file,omitempty" env:"GB_KEYWORDS_FILE" envDefault:"configs/keywords.txt"` // default keyword list
	Scheduler     Scheduler `json:"scheduler,omitempty"`
	Upstream      Upstream  `json:"upstream,omitempty"`
	Guard         Guard     `json:"guard,omitempty"`
}

// Scheduler background trainer scheduling
type Scheduler struct {
	Enabled         bool `json:"enabled,omitempty" env:"GB_SCHEDULER_ENABLED" envDefault:"true"`
	IntervalMinutes int  `json:"interval_minutes,omitempty" env:"GB_SCHEDULER_INTERVAL" envDefault:"10"`
}

// Upstream forwarder client settings
type Upstream struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty" env:"GB_UPSTREAM_TIMEOUT" envDefault:"60"`
}

// Guard memory guard settings
type Guard struct {
	Enabled         bool   `json:"enabled,omitempty" env:"GB_GUARD_ENABLED" envDefault:"true"`
	IntervalSeconds int    `json:"interval_seconds,omitempty" env:"GB_GUARD_INTERVAL" envDefault:"30"`
	SoftLimitBytes  uint64 `json:"soft_limit_bytes,omitempty" env:"GB_GUARD_SOFT_LIMIT" envDefault:"1073741824"` // clear model caches above this RSS
	HardLimitBytes  uint64 `json:"hard_limit_bytes,omitempty" env:"GB_GUARD_HARD_LIMIT" envDefault:"0"`          // terminate above this RSS, 0 disables
}
